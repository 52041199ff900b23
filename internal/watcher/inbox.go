package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kazz187/taskvault/internal/dedup"
	"github.com/kazz187/taskvault/internal/loop"
	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
)

const (
	DefaultInboxInterval = 10 * time.Second
	// InboxStorePath is where processed inbox paths are remembered,
	// relative to the vault root.
	InboxStorePath = ".processed_files.json"
)

// Priority is derived from keywords in a dropped file's name.
func Priority(name string) string {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "URGENT"), strings.Contains(upper, "CRITICAL"):
		return "high"
	case strings.Contains(upper, "IMPORTANT"):
		return "medium"
	default:
		return "normal"
	}
}

// Inbox moves files dropped into Inbox/ to Needs_Action/ and files a
// companion inbox-file record next to each one.
type Inbox struct {
	vault  *vault.Vault
	store  *dedup.Store
	minAge time.Duration
	now    func() time.Time
}

type InboxOption func(*Inbox)

// WithMinAge leaves files modified more recently than d for a later tick,
// so a file still being copied in is not moved half written.
func WithMinAge(d time.Duration) InboxOption {
	return func(in *Inbox) {
		in.minAge = d
	}
}

func WithInboxClock(now func() time.Time) InboxOption {
	return func(in *Inbox) {
		in.now = now
	}
}

func NewInbox(v *vault.Vault, store *dedup.Store, opts ...InboxOption) *Inbox {
	in := &Inbox{
		vault:  v,
		store:  store,
		minAge: time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// inboxID fingerprints a dropped file, so a new file dropped later under a
// name seen before is still picked up.
func inboxID(name string, fi fs.FileInfo) string {
	return fmt.Sprintf("%s/%s:%d:%d", vault.Inbox, name, fi.Size(), fi.ModTime().Unix())
}

// Scan is one tick over Inbox/.
func (in *Inbox) Scan(ctx context.Context) error {
	refs, err := in.vault.Collect(ctx, vault.Inbox, "")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fi, err := in.vault.Stat(ref)
		if err != nil {
			if !cerr.IsCode(err, cerr.NotFound) {
				cerr.Log(ctx, "failed to inspect inbox file", err, "file", ref.Name)
			}
			continue
		}
		id := inboxID(ref.Name, fi)
		if in.store.Has(id) || (in.minAge > 0 && in.now().Sub(fi.ModTime()) < in.minAge) {
			continue
		}
		if err := in.process(ctx, ref, fi.Size()); err != nil {
			cerr.Log(ctx, "failed to process inbox file", err, "file", ref.Name)
			continue
		}
		in.store.Add(id)
		if err := in.store.Flush(ctx); err != nil {
			cerr.Log(ctx, "failed to persist processed files", err, "path", in.store.Path())
		}
	}
	return nil
}

// process moves the file first, so a failure to write the companion record
// still leaves the file visible in Needs_Action.
func (in *Inbox) process(ctx context.Context, ref vault.Ref, size int64) error {
	moved, err := in.vault.MoveDisambiguated(ref, vault.NeedsAction)
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", ref, err)
	}
	priority := Priority(ref.Name)

	now := in.now()
	header := record.NewHeader(
		"source", ref.Name,
		"file", moved.Name,
		"size", fmt.Sprint(size),
		record.HeaderPriority, priority,
	)
	header.SetTime("received", now)
	rec := record.New(record.KindInboxFile, header)
	rec.SetSection("File", fmt.Sprintf("- Original name: %s\n- Stored as: %s/%s\n- Size: %d bytes", ref.Name, moved.Partition, moved.Name, size))
	rec.SetSection("Suggested Actions", "- [ ] Review the file\n- [ ] Decide on the next step")

	companion, err := in.vault.Create(vault.NeedsAction, rec, strings.TrimSuffix(ref.Name, filepath.Ext(ref.Name)))
	if err != nil {
		return fmt.Errorf("moved %s to %s but failed to write its record: %w", ref.Name, moved, err)
	}
	slog.InfoContext(ctx, "inbox file moved to needs action",
		"file", ref.Name, "stored_as", moved.Name, "record", companion.Name, "priority", priority)
	return nil
}

// Run scans on every interval and whenever Inbox/ changes, until ctx is done.
func (in *Inbox) Run(ctx context.Context, interval time.Duration) {
	opts := []loop.Option{loop.Immediately()}
	dir := filepath.Join(in.vault.Root(), string(vault.Inbox))
	if nudge, err := loop.WatchDir(ctx, dir, loop.DefaultSettle); err != nil {
		slog.WarnContext(ctx, "inbox change notifications unavailable, polling only", "dir", dir, "error", err)
	} else {
		opts = append(opts, loop.WithNudge(nudge))
	}
	loop.New("inbox", interval, in.Scan, opts...).Run(ctx)
}
