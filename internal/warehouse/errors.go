package warehouse

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies warehouse failures for callers that must react
// differently to auth problems, timeouts, and budget blocks.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuth           ErrorKind = "auth"
	KindConnection     ErrorKind = "connection"
	KindTimeout        ErrorKind = "timeout"
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	KindUpstream       ErrorKind = "upstream"
)

// Error wraps an underlying failure with its kind and the operation that
// produced it. The raw message is for logs only; user-facing surfaces show
// the kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("warehouse %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("warehouse %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a warehouse error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Kind == kind
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindUpstream
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
