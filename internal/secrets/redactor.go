package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string
	Description string
	Line        int
	Secret      string
}

// Redactor masks secrets using the gitleaks default rule set. A nil
// *Redactor passes text through unchanged.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor builds the detector once; construction compiles several
// hundred rules.
func NewRedactor(allow *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if allow != nil && len(allow.Regexes) > 0 {
		extra := &gitleaksconfig.Allowlist{Description: "forge allowlist"}
		for _, pattern := range allow.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			extra.Regexes = append(extra.Regexes, (*gitleaksregexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, extra)
	}
	return &Redactor{detector: detector}, nil
}

// Detect reports the secrets in content.
func (r *Redactor) Detect(content string) []Finding {
	if r == nil || content == "" {
		return nil
	}
	r.mu.Lock()
	raw := r.detector.DetectString(content)
	r.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return findings
}

// Redact replaces every detected secret with [REDACTED:<rule>].
func (r *Redactor) Redact(content string) (string, []Finding) {
	findings := r.Detect(content)
	if len(findings) == 0 {
		return content, nil
	}

	// Longest first so a secret that contains another is replaced whole.
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Secret) > len(ordered[j].Secret)
	})
	for _, f := range ordered {
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings
}

// Scrub is Redact without the findings.
func (r *Redactor) Scrub(content string) string {
	out, _ := r.Redact(content)
	return out
}
