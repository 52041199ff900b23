package executor

import (
	"context"
	"log/slog"
	"time"
)

const sessionStopTimeout = 30 * time.Second

// Session is a drain-scoped resource backed by two commands: Start runs
// before the first item of its executor in a drain and Stop after the drain.
// A browser login or a VPN tunnel fits this shape.
type Session struct {
	Name  string
	Start Command
	Stop  *Command
}

func (s *Session) Acquire(ctx context.Context) (func(), error) {
	if _, err := s.Start.run(ctx, nil, nil); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "session started", "session", s.Name)
	return func() {
		if s.Stop == nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionStopTimeout)
		defer cancel()
		if _, err := s.Stop.run(stopCtx, nil, nil); err != nil {
			slog.WarnContext(ctx, "failed to stop session", "session", s.Name, "error", err)
			return
		}
		slog.InfoContext(ctx, "session stopped", "session", s.Name)
	}, nil
}
