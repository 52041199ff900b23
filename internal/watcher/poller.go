package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/kazz187/taskvault/internal/dedup"
	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
)

// HeaderKeywords lists the trigger keywords an event matched.
const HeaderKeywords = "keywords"

// DefaultKeywords mark a chat message as worth acting on.
var DefaultKeywords = []string{"urgent", "asap", "invoice", "payment", "help"}

// Event is one thing a source detected. ID is the source's opaque
// identifier and is what deduplication keys on.
type Event struct {
	ID        string            `json:"id"`
	Kind      record.Kind       `json:"kind"`
	Partition vault.Partition   `json:"partition,omitempty"`
	Slug      string            `json:"slug,omitempty"`
	Header    map[string]string `json:"header,omitempty"`
	Sections  []EventSection    `json:"sections,omitempty"`
	// Text is what keyword matching looks at. Empty means every section.
	Text string `json:"text,omitempty"`
}

type EventSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (e *Event) matchText() string {
	if e.Text != "" {
		return e.Text
	}
	var b strings.Builder
	for _, s := range e.Sections {
		b.WriteString(s.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// Source fetches the events currently visible in some external system.
// Returning an event more than once is expected; the poller filters repeats.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Event, error)
}

// Poller turns the events of one Source into items. For every event it
// checks the dedup store, creates the item, then adds and flushes the id,
// so a crash between the two can only cause a repeat, never a loss.
type Poller struct {
	vault    *vault.Vault
	source   Source
	store    *dedup.Store
	keywords []string
}

type PollerOption func(*Poller)

// WithKeywords only turns events whose text contains one of keywords into
// items. Other events are marked seen and dropped.
func WithKeywords(keywords ...string) PollerOption {
	return func(p *Poller) {
		p.keywords = keywords
	}
}

func NewPoller(v *vault.Vault, src Source, store *dedup.Store, opts ...PollerOption) *Poller {
	p := &Poller{vault: v, source: src, store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MatchKeywords returns the keywords that occur in text, case-insensitively,
// in the order given.
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			matched = append(matched, k)
		}
	}
	return matched
}

// Poll is one tick. A failure on one event is logged and the rest of the
// batch still runs; only a failed fetch is returned.
func (p *Poller) Poll(ctx context.Context) error {
	events, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s: fetch failed: %w", p.source.Name(), err)
	}
	created := 0
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			slog.WarnContext(ctx, "event without id ignored", "source", p.source.Name())
			continue
		}
		if p.store.Has(ev.ID) {
			continue
		}
		ok, err := p.handle(ctx, ev)
		if err != nil {
			cerr.Log(ctx, "failed to create item for event", err, "source", p.source.Name(), "event", ev.ID)
			continue
		}
		if ok {
			created++
		}
		p.store.Add(ev.ID)
		if err := p.store.Flush(ctx); err != nil {
			cerr.Log(ctx, "failed to persist dedup store", err, "source", p.source.Name(), "path", p.store.Path())
		}
	}
	if created > 0 {
		slog.InfoContext(ctx, "poll finished", "source", p.source.Name(), "events", len(events), "created", created)
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, ev *Event) (bool, error) {
	header := record.NewHeader()
	for _, k := range slices.Sorted(maps.Keys(ev.Header)) {
		header.Set(k, ev.Header[k])
	}
	if len(p.keywords) > 0 {
		matched := MatchKeywords(ev.matchText(), p.keywords)
		if len(matched) == 0 {
			slog.DebugContext(ctx, "event matched no keyword", "source", p.source.Name(), "event", ev.ID)
			return false, nil
		}
		header.SetList(HeaderKeywords, matched)
		if !header.Has(record.HeaderPriority) {
			header.Set(record.HeaderPriority, "high")
		}
	}

	rec := record.New(ev.Kind, header)
	for _, s := range ev.Sections {
		rec.SetSection(s.Name, s.Content)
	}
	partition := ev.Partition
	switch partition {
	case "":
		partition = vault.NeedsAction
	case vault.NeedsAction, vault.PendingApproval:
	default:
		// Anything further along would skip human review.
		return false, cerr.Errorf(cerr.InvalidArgument, "watchers cannot create items in %s", partition)
	}
	slug := ev.Slug
	if slug == "" {
		slug = ev.ID
	}
	ref, err := p.vault.Create(partition, rec, slug)
	if err != nil {
		return false, err
	}
	slog.InfoContext(ctx, "item created", "source", p.source.Name(), "event", ev.ID, "item", ref.String())
	return true, nil
}
