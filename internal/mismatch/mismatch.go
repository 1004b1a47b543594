// Package mismatch decides whether a new sample is consistent with the last accepted one.
//
// Evaluate is a pure function: it never mutates the baseline it is given. Callers
// replace their baseline with Verdict.Baseline only when the verdict is an accept.
package mismatch

import (
	"fmt"

	"github.com/tidewise/gamepad-websocket/internal/domain"
)

// Reason names the check a rejected sample failed.
type Reason string

const (
	ReasonIdentity Reason = "id_mismatch"
	ReasonSize     Reason = "size_mismatch"
)

// Candidate is a freshly received sample.
type Candidate = domain.Sample

// Baseline is the last accepted sample of a stream.
type Baseline struct {
	Sample     domain.Sample
	Identifier string
	Buttons    int
	Axes       int
}

// NewBaseline captures the comparison fields of an accepted sample.
func NewBaseline(s domain.Sample) *Baseline {
	id, _ := s.Identifier()
	return &Baseline{
		Sample:     s,
		Identifier: id,
		Buttons:    s.ButtonCount(),
		Axes:       s.AxisCount(),
	}
}

// Checks selects which consistency rules apply to a stream.
type Checks struct {
	Identity bool
	Size     bool
}

// Error describes a rejected sample. It wraps domain.ErrIDMismatch or domain.ErrSizeMismatch.
type Error struct {
	Reason   Reason
	Field    string
	Expected string
	Got      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: expected %s %s, got %s", e.Reason, e.Field, e.Expected, e.Got)
}

func (e *Error) Unwrap() error {
	switch e.Reason {
	case ReasonIdentity:
		return domain.ErrIDMismatch
	case ReasonSize:
		return domain.ErrSizeMismatch
	default:
		return nil
	}
}

// Verdict is the outcome of Evaluate. On accept, Baseline is the new baseline and Err is
// nil. On reject, Baseline is the unchanged input baseline.
type Verdict struct {
	Accepted bool
	Baseline *Baseline
	Err      *Error
}

// Evaluate checks candidate against baseline. A nil baseline accepts anything.
func Evaluate(baseline *Baseline, candidate Candidate, checks Checks) Verdict {
	if baseline == nil {
		return accept(candidate)
	}

	if checks.Identity {
		if id, ok := candidate.Identifier(); ok && id != baseline.Identifier {
			return reject(baseline, &Error{
				Reason:   ReasonIdentity,
				Field:    "device identifier",
				Expected: fmt.Sprintf("%q", baseline.Identifier),
				Got:      fmt.Sprintf("%q", id),
			})
		}
	}

	if checks.Size {
		if got := candidate.ButtonCount(); got != baseline.Buttons {
			return reject(baseline, sizeError("button count", baseline.Buttons, got))
		}
		if got := candidate.AxisCount(); got != baseline.Axes {
			return reject(baseline, sizeError("axis count", baseline.Axes, got))
		}
	}

	return accept(candidate)
}

func accept(s domain.Sample) Verdict {
	return Verdict{Accepted: true, Baseline: NewBaseline(s)}
}

func reject(baseline *Baseline, err *Error) Verdict {
	return Verdict{Baseline: baseline, Err: err}
}

func sizeError(field string, expected, got int) *Error {
	return &Error{
		Reason:   ReasonSize,
		Field:    field,
		Expected: fmt.Sprint(expected),
		Got:      fmt.Sprint(got),
	}
}
