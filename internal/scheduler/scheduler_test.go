package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/vault"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func at(day, hour, minute, sec int) time.Time {
	// 2026-03-01 is a Sunday.
	return time.Date(2026, 3, day, hour, minute, sec, 0, time.Local)
}

func newVault(t *testing.T, clock *fakeClock) *vault.Vault {
	t.Helper()
	v, err := vault.Open(t.TempDir(), vault.WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, v.Init())
	return v
}

func dailyBriefing() Task {
	return Task{
		Name:         "daily_briefing",
		Trigger:      DailyAt(8, 0),
		Instructions: "Generate a briefing for {{.Date}}.",
		Output:       "Plans/Daily_Briefing_{{.Date}}.md",
	}
}

func statuses(outcomes []Outcome) []Status {
	var out []Status
	for _, o := range outcomes {
		out = append(out, o.Status)
	}
	return out
}

func TestScheduler_DailyBriefingSuppression(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 7, 59, 30)}
	v := newVault(t, clock)
	s, err := New(v, []Task{dailyBriefing()}, WithClock(clock.Now))
	require.NoError(t, err)

	outcomes, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes, "not due before 08:00")

	clock.now = at(2, 8, 0, 20)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []Status{StatusEmitted}, statuses(outcomes))
	first := outcomes[0].Ref
	assert.Equal(t, "SCHEDULED_daily_briefing_20260302_080020.md", first.Name)

	rec, err := v.Read(first)
	require.NoError(t, err)
	assert.Equal(t, "daily_briefing", rec.Header.Value(record.HeaderTask))
	out, _ := rec.Section("Output Location")
	assert.Equal(t, "Plans/Daily_Briefing_2026-03-02.md", out)
	instr, _ := rec.Section("Instructions")
	assert.Equal(t, "Generate a briefing for 2026-03-02.", instr)

	// Second tick in the same minute does nothing.
	clock.now = at(2, 8, 0, 50)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	// Next day the first instance is still unresolved.
	clock.now = at(3, 8, 0, 5)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuppressed}, statuses(outcomes))
	refs, err := v.Collect(ctx, vault.NeedsAction, "")
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	_, err = v.Move(first, vault.Done)
	require.NoError(t, err)

	clock.now = at(4, 8, 0, 5)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusEmitted}, statuses(outcomes))
	refs, err = v.Collect(ctx, vault.NeedsAction, "SCHEDULED_daily_briefing_*")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestScheduler_PreexistingItemSuppresses(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 7, 0, 0)}
	v := newVault(t, clock)
	stale := filepath.Join(v.Root(), string(vault.NeedsAction), "SCHEDULED_daily_briefing_20260301_080000.md")
	require.NoError(t, os.WriteFile(stale, []byte("---\ntype: scheduled_task\n---\n"), 0o644))

	s, err := New(v, []Task{dailyBriefing()}, WithClock(clock.Now))
	require.NoError(t, err)

	clock.now = at(2, 8, 1, 0)
	outcomes, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuppressed}, statuses(outcomes))

	next, ok := s.NextFire("daily_briefing")
	require.True(t, ok)
	assert.Equal(t, at(3, 8, 0, 0), next, "suppression advances the trigger")
}

func TestScheduler_PrefixSharingTaskNotSuppressed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 7, 0, 0)}
	v := newVault(t, clock)
	other := filepath.Join(v.Root(), string(vault.NeedsAction), "SCHEDULED_daily_briefing_20260301_080000.md")
	require.NoError(t, os.WriteFile(other, []byte("---\ntype: scheduled_task\ntask: daily_briefing\n---\n"), 0o644))

	daily := dailyBriefing()
	daily.Name = "daily"
	s, err := New(v, []Task{daily}, WithClock(clock.Now))
	require.NoError(t, err)

	clock.now = at(2, 8, 1, 0)
	outcomes, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []Status{StatusEmitted}, statuses(outcomes))
	assert.Equal(t, "SCHEDULED_daily_20260302_080100.md", outcomes[0].Ref.Name)
}

func TestScheduler_FailedEmissionRetriesNextTick(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 7, 0, 0)}
	v := newVault(t, clock)
	needsAction := filepath.Join(v.Root(), string(vault.NeedsAction))
	require.NoError(t, os.Remove(needsAction))
	require.NoError(t, os.WriteFile(needsAction, []byte("in the way"), 0o644))

	s, err := New(v, []Task{dailyBriefing()}, WithClock(clock.Now))
	require.NoError(t, err)

	clock.now = at(2, 8, 0, 0)
	outcomes, err := s.Tick(ctx)
	require.Error(t, err)
	assert.Equal(t, []Status{StatusFailed}, statuses(outcomes))

	require.NoError(t, os.Remove(needsAction))
	require.NoError(t, os.Mkdir(needsAction, 0o755))

	clock.now = at(2, 8, 1, 0)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusEmitted}, statuses(outcomes))
}

func TestScheduler_PendingApprovalsCondition(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 9, 0, 0)}
	v := newVault(t, clock)

	var reminder Task
	for _, task := range Defaults() {
		if task.Name == "pending_approvals" {
			reminder = task
		}
	}
	s, err := New(v, []Task{reminder}, WithClock(clock.Now))
	require.NoError(t, err)

	outcomes, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSkipped}, statuses(outcomes), "runs at start, nothing pending")

	draft := record.New(record.KindOutboundMessage, record.NewHeader(
		"to", "a@example.com", "subject", "hi", record.HeaderRequiresApproval, "true"))
	draft.SetSection("Body", "hello")
	_, err = v.Create(vault.PendingApproval, draft, "hi")
	require.NoError(t, err)

	clock.now = at(2, 9, 15, 0)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes, "interval not elapsed")

	clock.now = at(2, 9, 30, 0)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []Status{StatusEmitted}, statuses(outcomes))
	assert.True(t, strings.HasPrefix(outcomes[0].Ref.Name, "REMINDER_pending_approvals_"))

	rec, err := v.Read(outcomes[0].Ref)
	require.NoError(t, err)
	kind, _ := rec.Kind()
	assert.Equal(t, record.KindReminder, kind)
	assert.Equal(t, "high", rec.Header.Value(record.HeaderPriority))
	instr, _ := rec.Section("Instructions")
	assert.Contains(t, instr, "You have 1 item(s) awaiting approval")
}

func TestScheduler_IntervalFirstFiresAfterOneInterval(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: at(2, 10, 0, 0)}
	v := newVault(t, clock)
	s, err := New(v, []Task{{Name: "sweep", Trigger: Every(time.Hour), Instructions: "sweep"}}, WithClock(clock.Now))
	require.NoError(t, err)

	clock.now = at(2, 10, 59, 0)
	outcomes, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	clock.now = at(2, 11, 0, 30)
	outcomes, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusEmitted}, statuses(outcomes))

	next, _ := s.NextFire("sweep")
	assert.Equal(t, at(2, 12, 0, 30), next)
}

func TestNew_Errors(t *testing.T) {
	clock := &fakeClock{now: at(2, 10, 0, 0)}
	v := newVault(t, clock)

	tests := []struct {
		name  string
		tasks []Task
	}{
		{name: "no name", tasks: []Task{{Trigger: Every(time.Hour), Instructions: "x"}}},
		{name: "duplicate", tasks: []Task{dailyBriefing(), dailyBriefing()}},
		{name: "bad kind", tasks: []Task{{Name: "x", Kind: record.KindOutboundMessage, Instructions: "x", Trigger: Every(time.Hour)}}},
		{name: "bad condition", tasks: []Task{{Name: "x", Condition: "full_moon", Instructions: "x", Trigger: Every(time.Hour)}}},
		{name: "bad template", tasks: []Task{{Name: "x", Instructions: "{{.Nope", Trigger: Every(time.Hour)}}},
		{name: "unknown field", tasks: []Task{{Name: "x", Instructions: "{{.Weather}}", Trigger: Every(time.Hour)}}},
		{name: "section marker", tasks: []Task{{Name: "x", Instructions: "## Heading\nbody", Trigger: Every(time.Hour)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(v, tt.tasks, WithClock(clock.Now))
			assert.Error(t, err)
		})
	}

	_, err := New(v, Defaults(), WithClock(clock.Now))
	assert.NoError(t, err, "built-in schedule must render")
}

func TestTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "daily_briefing", want: "Daily Briefing"},
		{in: "weekly-summary", want: "Weekly Summary"},
		{in: "éclair_check", want: "Éclair Check"},
		{in: "übersicht", want: "Übersicht"},
		{in: "_x__y_", want: "X Y"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, title(tt.in))
		})
	}
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		in      string
		want    Trigger
		wantErr bool
	}{
		{in: "every 4h", want: Every(4 * time.Hour)},
		{in: "Daily 08:00", want: DailyAt(8, 0)},
		{in: "weekly sunday 20:00", want: WeeklyAt(time.Sunday, 20, 0)},
		{in: "every 10s", wantErr: true},
		{in: "daily 25:00", wantErr: true},
		{in: "weekly someday 20:00", wantErr: true},
		{in: "hourly", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTrigger(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			roundTrip, err := ParseTrigger(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, roundTrip)
		})
	}
}

func TestTrigger_Next(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		from    time.Time
		want    time.Time
	}{
		{name: "daily later today", trigger: DailyAt(8, 0), from: at(2, 7, 0, 0), want: at(2, 8, 0, 0)},
		{name: "daily same minute", trigger: DailyAt(8, 0), from: at(2, 8, 0, 40), want: at(2, 8, 0, 0)},
		{name: "daily passed", trigger: DailyAt(8, 0), from: at(2, 8, 1, 0), want: at(3, 8, 0, 0)},
		{name: "weekly later this week", trigger: WeeklyAt(time.Sunday, 20, 0), from: at(2, 9, 0, 0), want: at(8, 20, 0, 0)},
		{name: "weekly today", trigger: WeeklyAt(time.Sunday, 20, 0), from: at(1, 19, 0, 0), want: at(1, 20, 0, 0)},
		{name: "weekly passed today", trigger: WeeklyAt(time.Sunday, 20, 0), from: at(1, 21, 0, 0), want: at(8, 20, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trigger.Next(tt.from))
		})
	}
	assert.Equal(t, at(3, 8, 0, 0), DailyAt(8, 0).After(at(2, 8, 0, 40)))
}
