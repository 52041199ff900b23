package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
	"github.com/kazz187/taskvault/pkg/storage"
)

const DefaultDashboardPath = "Dashboard.md"

// Aggregator periodically projects the vault and the watchers into a
// Snapshot, publishes it as Dashboard.md and pushes a notification when
// more items are waiting for approval than at the previous tick.
type Aggregator struct {
	vault         *vault.Vault
	watchers      WatcherSource
	storage       storage.Storage
	dashboardPath string
	notifier      *Notifier
	now           func() time.Time

	current     atomic.Pointer[Snapshot]
	lastContent *string
	lastPending int
}

type Option func(*Aggregator)

func WithWatchers(w WatcherSource) Option {
	return func(a *Aggregator) {
		a.watchers = w
	}
}

func WithNotifier(n *Notifier) Option {
	return func(a *Aggregator) {
		a.notifier = n
	}
}

func WithDashboardPath(p string) Option {
	return func(a *Aggregator) {
		a.dashboardPath = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func NewAggregator(v *vault.Vault, st storage.Storage, opts ...Option) *Aggregator {
	a := &Aggregator{
		vault:         v,
		storage:       st,
		dashboardPath: DefaultDashboardPath,
		now:           time.Now,
		lastPending:   -1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect takes a fresh snapshot without publishing it.
func (a *Aggregator) Collect(ctx context.Context) (*Snapshot, error) {
	return Collect(ctx, a.vault, a.watchers, a.now())
}

// Current is the snapshot taken by the latest Publish, nil before the first.
func (a *Aggregator) Current() *Snapshot {
	return a.current.Load()
}

// Publish is one status tick. It must not be called concurrently with
// itself; the status loop is its only caller.
func (a *Aggregator) Publish(ctx context.Context) error {
	snap, err := a.Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}
	a.current.Store(snap)

	a.notifyPending(ctx, snap.Count(vault.PendingApproval))

	if a.storage == nil {
		return nil
	}
	return a.writeDashboard(ctx, snap)
}

func (a *Aggregator) notifyPending(ctx context.Context, pending int) {
	prev := a.lastPending
	a.lastPending = pending
	if prev < 0 || pending <= prev || !a.notifier.Enabled() {
		return
	}
	a.notifier.Send(ctx, &Payload{
		Title: "Approval needed",
		Body:  fmt.Sprintf("%d item(s) waiting in %s", pending, vault.PendingApproval),
		Tag:   "pending-approval",
	})
}

func (a *Aggregator) writeDashboard(ctx context.Context, snap *Snapshot) error {
	page := RenderDashboard(snap)
	content := dashboardContent(page)

	if a.lastContent == nil {
		prev, err := a.storage.Read(ctx, a.dashboardPath)
		switch {
		case err == nil:
			s := dashboardContent(prev)
			a.lastContent = &s
		case errors.Is(err, storage.ErrNotFound):
		default:
			slog.WarnContext(ctx, "failed to read previous dashboard", "path", a.dashboardPath, "error", err)
		}
	}
	if a.lastContent != nil && *a.lastContent == content {
		slog.DebugContext(ctx, "dashboard unchanged", "path", a.dashboardPath)
		return nil
	}
	if a.lastContent != nil && slog.Default().Enabled(ctx, slog.LevelDebug) {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(*a.lastContent),
			B:        difflib.SplitLines(content),
			FromFile: a.dashboardPath + " (previous)",
			ToFile:   a.dashboardPath,
			Context:  1,
		})
		slog.DebugContext(ctx, "dashboard changed", "path", a.dashboardPath, "diff", diff)
	}

	if err := a.storage.Write(ctx, a.dashboardPath, page); err != nil {
		return cerr.WrapStorageWriteError(a.dashboardPath, err)
	}
	a.lastContent = &content
	slog.InfoContext(ctx, "dashboard updated", "path", a.dashboardPath,
		"pending_approval", snap.Count(vault.PendingApproval), "watchers_running", snap.WatchersRunning)
	return nil
}
