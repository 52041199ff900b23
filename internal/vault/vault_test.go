package vault

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/pkg/cerr"
)

var fixedNow = time.Date(2026, 2, 3, 8, 0, 0, 123456000, time.Local)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(t.TempDir(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	require.NoError(t, v.Init())
	return v
}

func draft(subject string) *record.Record {
	rec := record.New(record.KindOutboundMessage, record.NewHeader(
		"to", "client@example.com",
		"subject", subject,
		record.HeaderRequiresApproval, "true",
	))
	rec.Preamble = "# Email Draft for Approval"
	rec.SetSection("Body", "Hello,\n\nsee attached.")
	return rec
}

func TestCreateReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	rec := draft("Re: Invoice #42")
	ref, err := v.Create(PendingApproval, rec, "Re: Invoice #42")
	require.NoError(t, err)
	assert.Equal(t, "EMAIL_20260203_080000_Re_Invoice_42.md", ref.Name)

	refs, err := v.Collect(ctx, PendingApproval, "")
	require.NoError(t, err)
	assert.Equal(t, []Ref{ref}, refs)

	got, err := v.Read(ref)
	require.NoError(t, err)
	assert.True(t, rec.Header.Equal(got.Header))
	assert.Equal(t, rec.Preamble, got.Preamble)
	assert.Equal(t, rec.Sections, got.Sections)
}

func TestCreate_CollisionAppendsFinerTimestamp(t *testing.T) {
	v := newTestVault(t)

	first, err := v.Create(NeedsAction, draft("same"), "same")
	require.NoError(t, err)
	second, err := v.Create(NeedsAction, draft("same"), "same")
	require.NoError(t, err)
	third, err := v.Create(NeedsAction, draft("same"), "same")
	require.NoError(t, err)

	assert.Equal(t, "EMAIL_20260203_080000_same.md", first.Name)
	assert.Equal(t, "EMAIL_20260203_080000_same_123456.md", second.Name)
	assert.Equal(t, "EMAIL_20260203_080000_same_123456_2.md", third.Name)

	entries, err := os.ReadDir(filepath.Join(v.Root(), string(NeedsAction)))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestCreate_RejectsInvalid(t *testing.T) {
	v := newTestVault(t)

	rec := draft("x")
	rec.Header.Delete("to")
	_, err := v.Create(PendingApproval, rec, "x")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = v.Create(PendingApproval, &record.Record{Header: record.NewHeader("type", "fax")}, "x")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	refs, err := v.Collect(context.Background(), PendingApproval, "")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	ref, err := v.Create(PendingApproval, draft("a"), "a")
	require.NoError(t, err)

	moved, err := v.Move(ref, Approved)
	require.NoError(t, err)
	assert.Equal(t, Ref{Partition: Approved, Name: ref.Name}, moved)

	n, err := v.Count(ctx, PendingApproval)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = v.Move(ref, Approved)
	assert.True(t, cerr.IsCode(err, cerr.NotFound), "stale ref")

	// Another item with the same name already waiting in Done.
	require.NoError(t, os.WriteFile(v.Path(Ref{Partition: Done, Name: ref.Name}), []byte("old"), 0o644))
	_, err = v.Move(moved, Done)
	require.True(t, cerr.IsCode(err, cerr.DestinationCollision))

	old, err := os.ReadFile(v.Path(Ref{Partition: Done, Name: ref.Name}))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old), "collision must not clobber")
	_, err = v.Read(moved)
	assert.NoError(t, err, "source untouched after collision")

	done, err := v.MoveDisambiguated(moved, Done)
	require.NoError(t, err)
	assert.Equal(t, "EMAIL_20260203_080000_a_123456.md", done.Name)

	_, err = v.Move(done, Done)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = v.Move(Ref{Partition: Done, Name: "../escape.md"}, Rejected)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestMove_SinglePartitionVisibility(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	ref, err := v.Create(NeedsAction, draft("hop"), "hop")
	require.NoError(t, err)

	holders := func() []Partition {
		var ps []Partition
		for _, p := range States {
			refs, err := v.Collect(ctx, p, ref.Name)
			require.NoError(t, err)
			if len(refs) > 0 {
				ps = append(ps, p)
			}
		}
		return ps
	}

	// Readers racing the mover see either the whole record or NotFound.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var badReads []error
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, p := range States {
					for r, err := range v.List(ctx, p, "") {
						if err != nil {
							continue
						}
						if _, err := v.Read(r); err != nil && !cerr.IsCode(err, cerr.NotFound) {
							mu.Lock()
							badReads = append(badReads, err)
							mu.Unlock()
						}
					}
				}
			}
		}()
	}

	cur := ref
	path := []Partition{PendingApproval, Approved, Done, Rejected, NeedsAction}
	for range 20 {
		for _, p := range path {
			cur, err = v.Move(cur, p)
			require.NoError(t, err)
			assert.Equal(t, []Partition{p}, holders())
		}
	}
	close(stop)
	wg.Wait()

	assert.Empty(t, badReads)
	located, err := v.Locate(ref.Name)
	require.NoError(t, err)
	assert.Equal(t, NeedsAction, located.Partition)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	dir := filepath.Join(v.Root(), string(NeedsAction))
	for _, name := range []string{
		"SCHEDULED_daily_briefing_20260203_080000.md",
		"SCHEDULED_weekly_summary_20260201_200000.md",
		"email_20260203_070000_hello.md",
		".tmp-123",
		".processed_files.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	tests := []struct {
		pattern string
		want    int
	}{
		{pattern: "", want: 3},
		{pattern: "SCHEDULED_daily_briefing_*", want: 1},
		{pattern: "SCHEDULED_*", want: 2},
		{pattern: "{SCHEDULED,email}_*", want: 3},
		{pattern: "REMINDER_*", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			refs, err := v.Collect(ctx, NeedsAction, tt.pattern)
			require.NoError(t, err)
			assert.Len(t, refs, tt.want)
		})
	}

	_, err := v.Collect(ctx, NeedsAction, "[")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	missing, err := Open(filepath.Join(t.TempDir(), "nowhere"))
	require.NoError(t, err)
	refs, err := missing.Collect(ctx, Approved, "")
	require.NoError(t, err)
	assert.Empty(t, refs)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = v.Collect(canceled, NeedsAction, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestList_EarlyBreak(t *testing.T) {
	v := newTestVault(t)
	for range 20 {
		_, err := v.Create(NeedsAction, draft("bulk"), "bulk")
		require.NoError(t, err)
	}
	n := 0
	for _, err := range v.List(context.Background(), NeedsAction, "EMAIL_*") {
		require.NoError(t, err)
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestRead_Errors(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Read(Ref{Partition: Approved, Name: "gone.md"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	bad := Ref{Partition: Approved, Name: "EMAIL_bad.md"}
	require.NoError(t, os.WriteFile(v.Path(bad), []byte("no header here\n"), 0o644))
	_, err = v.Read(bad)
	assert.True(t, cerr.IsCode(err, cerr.ParseError))
	_, statErr := os.Stat(v.Path(bad))
	assert.NoError(t, statErr, "malformed records stay in place")
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Re: Invoice #42":     "Re_Invoice_42",
		"  spaced   out  ":    "spaced_out",
		"daily_briefing":      "daily_briefing",
		"!!!":                 "item",
		"日本語 テスト":             "日本語_テスト",
		"a/b\\c..d":           "abcd",
		"report-final__v2.md": "report-final_v2md",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
	long := Slug("abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghij")
	assert.Len(t, []rune(long), 50)
}

func TestPendingPattern(t *testing.T) {
	spec, ok := record.LookupKind(record.KindScheduledTask)
	require.True(t, ok)
	name := FileName(spec, "daily_briefing", fixedNow)
	assert.Equal(t, "SCHEDULED_daily_briefing_20260203_080000.md", name)

	tests := []struct {
		slug  string
		name  string
		match bool
	}{
		{slug: "daily_briefing", name: name, match: true},
		{slug: "daily_briefing", name: Disambiguate(name, fixedNow, 2), match: true},
		{slug: "daily", name: name, match: false},
		{slug: "daily", name: FileName(spec, "daily", fixedNow), match: true},
		{slug: "daily_briefing", name: "SCHEDULED_daily_briefing_notes.md", match: false},
	}
	for _, tt := range tests {
		t.Run(tt.slug+"/"+tt.name, func(t *testing.T) {
			pattern := PendingPattern(spec, tt.slug)
			require.True(t, doublestar.ValidatePattern(pattern))
			ok, err := doublestar.Match(pattern, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.match, ok)
		})
	}
}

func TestPendingPattern_TimestampFirst(t *testing.T) {
	spec := record.KindSpec{Prefix: "EMAIL_"}
	name := FileName(spec, "daily_briefing", fixedNow)
	require.Equal(t, "EMAIL_20260203_080000_daily_briefing.md", name)

	tests := []struct {
		slug  string
		name  string
		match bool
	}{
		{slug: "daily_briefing", name: name, match: true},
		{slug: "daily_briefing", name: Disambiguate(name, fixedNow, 2), match: true},
		{slug: "daily", name: name, match: false},
		{slug: "daily", name: FileName(spec, "daily", fixedNow), match: true},
	}
	for _, tt := range tests {
		t.Run(tt.slug+"/"+tt.name, func(t *testing.T) {
			pattern := PendingPattern(spec, tt.slug)
			require.True(t, doublestar.ValidatePattern(pattern))
			ok, err := doublestar.Match(pattern, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.match, ok)
		})
	}
}
