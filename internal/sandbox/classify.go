package sandbox

import (
	"strings"

	"github.com/sanvibhowmick/forge/internal/domain"
)

// NoLogsDiagnostic is reported for a failing run that wrote nothing to
// stderr.
const NoLogsDiagnostic = "Container failed with no logs."

// Classify turns a runtime outcome into a status and diagnostic. It is the
// only place that decides PASS, FAIL or ERROR.
//
//   - err != nil: the environment itself could not be provisioned or run.
//   - non-zero exit: the tests ran and failed.
//   - zero exit: the tests ran and passed.
func Classify(res *RunResult, err error) (domain.Status, string) {
	if err != nil {
		return domain.StatusError, "Sandbox crash: " + err.Error()
	}
	if res == nil {
		return domain.StatusError, "Sandbox crash: runtime returned no result"
	}
	if res.ExitCode != 0 {
		if strings.TrimSpace(res.Stderr) == "" {
			return domain.StatusFail, NoLogsDiagnostic
		}
		return domain.StatusFail, res.Stderr
	}
	return domain.StatusPass, res.Stdout + res.Stderr
}
