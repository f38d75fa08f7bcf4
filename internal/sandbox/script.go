package sandbox

import (
	"path"
	"regexp"
	"strings"

	"github.com/sanvibhowmick/forge/internal/command"
)

// TestRunnerPackage is always installed, requested or not.
const TestRunnerPackage = "pytest"

// requirementPattern matches a bare package requirement such as
// "requests", "click>=8.0" or "uvicorn[standard]".
var requirementPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(\[[A-Za-z0-9._,\-]+\])?([<>=!~]=?[A-Za-z0-9.*+!\-]+(,[<>=!~]=?[A-Za-z0-9.*+!\-]+)*)?$`)

// Packages reduces setup commands to the installable package arguments.
// Entries are first passed through the shared setup filter. "pip install"
// style entries contribute their arguments; bare requirement specifiers
// pass through; anything else is dropped. The test runner is appended if
// missing.
func Packages(deps []string) []string {
	kept, _ := command.FilterInstallable(deps)

	var pkgs []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		pkgs = append(pkgs, p)
	}

	for _, dep := range kept {
		fields := strings.Fields(dep)
		if args, ok := pipInstallArgs(fields); ok {
			for _, a := range args {
				add(a)
			}
			continue
		}
		if len(fields) == 1 && requirementPattern.MatchString(fields[0]) {
			add(fields[0])
		}
	}

	if !seen[TestRunnerPackage] {
		add(TestRunnerPackage)
	}
	return pkgs
}

// pipInstallArgs recognizes "pip install ...", "pip3 install ..." and
// "python -m pip install ...".
func pipInstallArgs(fields []string) ([]string, bool) {
	switch {
	case len(fields) >= 2 && (fields[0] == "pip" || fields[0] == "pip3") && fields[1] == "install":
		return fields[2:], true
	case len(fields) >= 4 && strings.HasPrefix(fields[0], "python") && fields[1] == "-m" && fields[2] == "pip" && fields[3] == "install":
		return fields[4:], true
	}
	return nil, false
}

// Script builds the shell line executed inside the container: install the
// packages, then run the suite under <mount>/<testsDir> with short
// tracebacks. The runner's report goes to stderr so a failing run carries
// its traceback in the diagnostic.
func Script(pkgs []string, mountPath, testsDir string) string {
	quoted := make([]string, len(pkgs))
	for i, p := range pkgs {
		quoted[i] = shellQuote(p)
	}
	testsPath := path.Join(mountPath, testsDir)
	return "pip install " + strings.Join(quoted, " ") +
		" && " + TestRunnerPackage + " " + shellQuote(testsPath) + " --tb=short 1>&2"
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@", r)
}
