// Package ignore reads gitignore-style files and decides which paths an
// ingestion walk should skip.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Rule is one parsed ignore line.
type Rule struct {
	Pattern  string
	DirOnly  bool // trailing slash
	Anchored bool // contains a slash, so matches from the root only
}

// Matcher applies a set of rules to slash-separated relative paths.
type Matcher struct {
	rules []Rule
}

// Parser reads the named ignore files from a project root.
type Parser struct {
	IgnoreFiles      []string
	FallbackPatterns []string
}

// NewParser returns a parser that falls back to fallbackPatterns when none
// of ignoreFiles exist.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject combines the rules of every ignore file found at root.
func (p *Parser) ParseProject(root string) (*Matcher, error) {
	var lines []string
	found := false

	for _, name := range p.IgnoreFiles {
		fileLines, err := readLines(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, fileLines...)
		found = true
	}
	if !found {
		lines = p.FallbackPatterns
	}
	return NewMatcher(lines), nil
}

// NewMatcher parses lines into a Matcher, dropping duplicates.
func NewMatcher(lines []string) *Matcher {
	seen := make(map[Rule]bool)
	m := &Matcher{}
	for _, line := range lines {
		r, ok := parseLine(line)
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		m.rules = append(m.rules, r)
	}
	return m
}

// Rules returns the parsed rules in file order.
func (m *Matcher) Rules() []Rule {
	return m.rules
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored. A path under an ignored directory is ignored too.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = strings.Trim(path.Clean(filepath.ToSlash(rel)), "/")
	if rel == "" || rel == "." {
		return false
	}

	segments := strings.Split(rel, "/")
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		prefixIsDir := isDir || i < len(segments)-1
		for _, r := range m.rules {
			if r.DirOnly && !prefixIsDir {
				continue
			}
			if r.matches(prefix, segments[i]) {
				return true
			}
		}
	}
	return false
}

func (r Rule) matches(prefix, base string) bool {
	if r.Anchored {
		ok, _ := path.Match(r.Pattern, prefix)
		return ok
	}
	ok, _ := path.Match(r.Pattern, base)
	return ok
}

func parseLine(line string) (Rule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return Rule{}, false
	}
	// negation is not supported
	if strings.HasPrefix(line, "!") {
		return Rule{}, false
	}

	r := Rule{}
	if strings.HasSuffix(line, "/") {
		r.DirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	line = strings.TrimPrefix(line, "**/")
	if strings.Contains(line, "/") {
		r.Anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	line = strings.TrimSuffix(line, "/**")
	if line == "" {
		return Rule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return Rule{}, false
	}
	r.Pattern = line
	return r, true
}

func readLines(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
