package panicerr

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// Call runs fn and converts a panic inside it into an error carrying the
// recovered value and its stack.
func Call(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		return fmt.Errorf("recovered panic: %w", r.AsError())
	}
	return err
}

// CallContext is Call for functions that take a context.
func CallContext(ctx context.Context, fn func(context.Context) error) error {
	return Call(func() error {
		return fn(ctx)
	})
}

// Safe wraps fn so that every invocation goes through Call.
func Safe(fn func() error) func() error {
	return func() error {
		return Call(fn)
	}
}
