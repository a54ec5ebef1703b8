package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPartialFailure = errors.New("partial failure")

// PartialFailure reports a multi-step operation that changed remote state
// before one of its later steps failed. Nothing is rolled back.
type PartialFailure struct {
	Operation string
	// Summary is the one-line outcome shown to the user.
	Summary string
	// Completed lists the steps that took effect.
	Completed []string
	// FailedStep names the first step that did not.
	FailedStep string
	// Pending holds the ids the failed step left untouched.
	Pending []string
	Err     error
}

func (e *PartialFailure) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	b.WriteString(": ")
	if e.Summary != "" {
		b.WriteString(e.Summary)
	} else {
		if len(e.Completed) > 0 {
			fmt.Fprintf(&b, "%s; ", strings.Join(e.Completed, ", "))
		}
		fmt.Fprintf(&b, "%s failed", e.FailedStep)
	}
	if len(e.Pending) > 0 {
		fmt.Fprintf(&b, " (not updated: %s)", strings.Join(e.Pending, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PartialFailure) Is(target error) bool {
	return target == ErrPartialFailure
}

func (e *PartialFailure) Unwrap() error {
	return e.Err
}
