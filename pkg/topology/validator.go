package topology

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a topology.
type LintError struct {
	Stage   string
	Message string
}

func (e LintError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %q: %s", e.Stage, e.Message)
	}
	return e.Message
}

// Validate checks a topology's stage list and returns all problems found.
func Validate(t *Topology) []LintError {
	var errs []LintError
	if len(t.Stages) == 0 {
		errs = append(errs, LintError{Message: "pipeline must have at least one stage"})
	}
	seen := make(map[string]bool, len(t.Stages))
	for i, s := range t.Stages {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, LintError{Message: fmt.Sprintf("stage %d has an empty name", i)})
			continue
		}
		if seen[s] {
			errs = append(errs, LintError{Stage: s, Message: "stage listed more than once"})
		}
		seen[s] = true
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error listing all of them.
func ValidateErr(t *Topology) error {
	return joinLint("topology validation failed", Validate(t))
}

func joinLint(prefix string, errs []LintError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s:\n  %s", prefix, strings.Join(msgs, "\n  "))
}
