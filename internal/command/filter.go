package command

import (
	"strings"
)

// mutatingTokens mark commands that change the shell environment or touch
// version control instead of installing dependencies. Matching is a
// case-insensitive substring test.
var mutatingTokens = []string{"venv", "source", "git", "cd "}

// IsEnvironmentMutating reports whether cmd should be skipped rather than
// executed: environment activation, version control, or directory changes.
func IsEnvironmentMutating(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, tok := range mutatingTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// FilterInstallable splits cmds into the ones safe to run and the ones
// rejected by IsEnvironmentMutating. Order is preserved in both.
func FilterInstallable(cmds []string) (kept, skipped []string) {
	for _, c := range cmds {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if IsEnvironmentMutating(c) {
			skipped = append(skipped, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, skipped
}
