// Package resolver turns pending references into database writes. Each
// category has its own Resolver; Manager dispatches work items to them and
// applies the outcome.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/cityxlink/internal/citydb"
	"github.com/agentic-research/cityxlink/internal/xlink"
)

// OutcomeKind is the result class of one resolution attempt.
type OutcomeKind int

const (
	// OutcomeResolved means the reference was written.
	OutcomeResolved OutcomeKind = iota
	// OutcomeRequeue means the target is not available yet; the item is
	// retried in the next pass.
	OutcomeRequeue
	// OutcomeInvalid means the reference can never be resolved.
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeInvalid:
		return "invalid"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is what a Resolver decided for an item. Reason is set for
// invalid references.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Resolved reports a written reference.
func Resolved() Outcome { return Outcome{Kind: OutcomeResolved} }

// Requeue asks for a retry in the next pass.
func Requeue() Outcome { return Outcome{Kind: OutcomeRequeue} }

// Invalid drops the item with a reason.
func Invalid(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeInvalid, Reason: fmt.Sprintf(format, args...)}
}

// Resolver resolves items of one category. A non-nil error is an
// infrastructure failure and aborts the run; data problems are reported as
// an Invalid outcome.
type Resolver interface {
	Resolve(ctx context.Context, item xlink.Item) (Outcome, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, item xlink.Item) (Outcome, error)

func (f Func) Resolve(ctx context.Context, item xlink.Item) (Outcome, error) { return f(ctx, item) }

// dataError reports whether err describes bad data rather than a failing
// database.
func dataError(err error) bool {
	return errors.Is(err, citydb.ErrNotFound) ||
		errors.Is(err, citydb.ErrUnsupportedTable) ||
		errors.Is(err, citydb.ErrInvalidColumn) ||
		errors.Is(err, citydb.ErrInvalidGeometry)
}

// classify maps a store error to an outcome: data errors become Invalid,
// anything else stays fatal.
func classify(err error) (Outcome, error) {
	if err == nil {
		return Resolved(), nil
	}
	if dataError(err) {
		return Invalid("%v", err), nil
	}
	return Outcome{}, err
}

// trimRef strips the fragment marker of an xlink:href.
func trimRef(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "#")
}

func unexpected(item xlink.Item) error {
	return fmt.Errorf("unexpected work item %T for model %s", item, item.Model())
}
