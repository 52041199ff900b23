package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskvault/pkg/cerr"
	"github.com/kazz187/taskvault/pkg/clog"
	"github.com/kazz187/taskvault/pkg/panicerr"
)

// Func is one iteration of a loop. A returned error is logged and the loop
// carries on with its next tick.
type Func func(ctx context.Context) error

// Loop runs a Func on a fixed period with a cancellable wait between
// iterations. Nudges wake it before the period elapses.
type Loop struct {
	name      string
	interval  time.Duration
	fn        Func
	immediate bool
	nudge     <-chan struct{}
}

type Option func(*Loop)

// Immediately runs the first iteration on start instead of after one
// interval.
func Immediately() Option {
	return func(l *Loop) {
		l.immediate = true
	}
}

// WithNudge wakes the loop early whenever ch receives.
func WithNudge(ch <-chan struct{}) Option {
	return func(l *Loop) {
		l.nudge = ch
	}
}

func New(name string, interval time.Duration, fn Func, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Name() string {
	return l.name
}

// Run blocks until ctx is done. Each iteration runs with its own tick id in
// the log context and a panic inside fn is logged like any other error.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("loop started", "loop", l.name, "interval", l.interval)
	defer slog.Info("loop stopped", "loop", l.name)

	if l.immediate {
		l.iterate(ctx)
	}
	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.nudge:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		l.iterate(ctx)
		timer.Reset(l.interval)
	}
}

func (l *Loop) iterate(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tickCtx := clog.ContextWithSlog(ctx)
	clog.AddAttributes(tickCtx, map[string]any{
		"loop": l.name,
		"tick": ulid.Make().String(),
	})
	if err := panicerr.CallContext(tickCtx, l.fn); err != nil {
		if ctx.Err() != nil && cerr.CodeOf(err) == cerr.Canceled {
			return
		}
		cerr.Log(tickCtx, "loop iteration failed", err)
	}
}

// Wait blocks for d or until ctx is done, whichever comes first, and
// reports ctx's error in the latter case.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
