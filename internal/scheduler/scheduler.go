package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/vault"
)

// ConditionPendingApprovals makes a task emit only while Pending_Approval
// holds at least one item.
const ConditionPendingApprovals = "pending_approvals"

// Task is a named recurring rule. Instructions and Output are text/template
// sources expanded with TemplateData at emission time.
type Task struct {
	Name         string
	Kind         record.Kind
	Trigger      Trigger
	Instructions string
	Output       string
	Priority     string
	Condition    string
	// RunAtStart makes the first tick after start fire regardless of the
	// trigger.
	RunAtStart bool
}

type TemplateData struct {
	Task             string
	Date             string
	Time             string
	PendingApprovals int
}

type Status int

const (
	StatusIdle Status = iota
	StatusEmitted
	StatusSuppressed
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmitted:
		return "emitted"
	case StatusSuppressed:
		return "suppressed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome is what one tick did for one task.
type Outcome struct {
	Task   string
	Status Status
	Ref    vault.Ref
	Err    error
}

type taskState struct {
	Task
	spec         record.KindSpec
	instructions *template.Template
	output       *template.Template
	next         time.Time
	lastFired    string
}

// Scheduler evaluates every task once per Tick. It keeps per-task firing
// state in memory only; after a restart calendar triggers resume from the
// next occurrence and interval triggers from one interval after start.
type Scheduler struct {
	vault *vault.Vault
	now   func() time.Time
	tasks []*taskState
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(v *vault.Vault, tasks []Task, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{vault: v, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	start := s.now()
	seen := map[string]bool{}
	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("scheduled task without name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate scheduled task %q", t.Name)
		}
		seen[t.Name] = true
		if t.Kind == "" {
			t.Kind = record.KindScheduledTask
		}
		if t.Kind != record.KindScheduledTask && t.Kind != record.KindReminder {
			return nil, fmt.Errorf("task %q: kind %s cannot be scheduled", t.Name, t.Kind)
		}
		if t.Condition != "" && t.Condition != ConditionPendingApprovals {
			return nil, fmt.Errorf("task %q: unknown condition %q", t.Name, t.Condition)
		}
		if t.Priority == "" {
			t.Priority = "medium"
		}
		spec, _ := record.LookupKind(t.Kind)
		instr, err := template.New(t.Name).Option("missingkey=error").Parse(t.Instructions)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid instructions template: %w", t.Name, err)
		}
		out, err := template.New(t.Name + ".output").Option("missingkey=error").Parse(t.Output)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid output template: %w", t.Name, err)
		}
		ts := &taskState{
			Task:         t,
			spec:         spec,
			instructions: instr,
			output:       out,
			next:         t.Trigger.Next(start),
		}
		if t.RunAtStart {
			ts.next = start
		}
		// Catch templates that expand into something the record grammar
		// cannot hold before the first firing does.
		rec, err := ts.render(start, 0)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		if _, err := record.Format(rec); err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		s.tasks = append(s.tasks, ts)
	}
	return s, nil
}

// NextFire reports when the named task is next due.
func (s *Scheduler) NextFire(name string) (time.Time, bool) {
	for _, t := range s.tasks {
		if t.Name == name {
			return t.next, true
		}
	}
	return time.Time{}, false
}

// Tick fires every due task. A due task is suppressed when an instance of it
// is still waiting in Needs_Action, skipped when its condition does not
// hold, and otherwise emitted as a new item. Suppressed and skipped firings
// count as done for this occurrence; a failed emission leaves the task due
// so the next tick tries again.
//
// The pending check only looks at Needs_Action. An instance a human parked
// in another partition without finishing it no longer suppresses the next
// firing.
func (s *Scheduler) Tick(ctx context.Context) ([]Outcome, error) {
	now := s.now()
	minute := now.Format("2006-01-02T15:04")

	var outcomes []Outcome
	var errs []error
	for _, t := range s.tasks {
		if now.Before(t.next) || t.lastFired == minute {
			continue
		}
		o := s.fire(ctx, t, now)
		outcomes = append(outcomes, o)
		if o.Status == StatusFailed {
			errs = append(errs, o.Err)
			continue
		}
		t.lastFired = minute
		t.next = t.Trigger.After(now)
	}
	return outcomes, errors.Join(errs...)
}

// Run adapts Tick to a loop iteration.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.Tick(ctx)
	return err
}

func (s *Scheduler) fire(ctx context.Context, t *taskState, now time.Time) Outcome {
	o := Outcome{Task: t.Name}
	log := slog.With("task", t.Name, "trigger", t.Trigger.String())

	pendingApprovals, err := s.vault.Count(ctx, vault.PendingApproval)
	if err != nil {
		o.Status, o.Err = StatusFailed, fmt.Errorf("task %s: %w", t.Name, err)
		return o
	}
	if t.Condition == ConditionPendingApprovals && pendingApprovals == 0 {
		log.Debug("scheduled task skipped, condition not met", "condition", t.Condition)
		o.Status = StatusSkipped
		return o
	}

	pending, err := s.findPending(ctx, t)
	if err != nil {
		o.Status, o.Err = StatusFailed, fmt.Errorf("task %s: %w", t.Name, err)
		return o
	}
	if pending != nil {
		log.Info("scheduled task suppressed, previous instance unresolved", "pending", pending.String())
		o.Status = StatusSuppressed
		return o
	}

	rec, err := t.render(now, pendingApprovals)
	if err != nil {
		o.Status, o.Err = StatusFailed, fmt.Errorf("task %s: %w", t.Name, err)
		return o
	}
	ref, err := s.vault.Create(vault.NeedsAction, rec, t.Name)
	if err != nil {
		o.Status, o.Err = StatusFailed, fmt.Errorf("task %s: failed to create item: %w", t.Name, err)
		return o
	}
	log.Info("scheduled task emitted", "item", ref.String())
	o.Status, o.Ref = StatusEmitted, ref
	return o
}

func (s *Scheduler) findPending(ctx context.Context, t *taskState) (*vault.Ref, error) {
	for ref, err := range s.vault.List(ctx, vault.NeedsAction, vault.PendingPattern(t.spec, t.Name)) {
		if err != nil {
			return nil, err
		}
		return &ref, nil
	}
	return nil, nil
}

func (t *taskState) render(now time.Time, pendingApprovals int) (*record.Record, error) {
	data := TemplateData{
		Task:             t.Name,
		Date:             now.Format(time.DateOnly),
		Time:             now.Format(time.DateTime),
		PendingApprovals: pendingApprovals,
	}
	var instr, out bytes.Buffer
	if err := t.instructions.Execute(&instr, data); err != nil {
		return nil, fmt.Errorf("failed to expand instructions: %w", err)
	}
	if err := t.output.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("failed to expand output location: %w", err)
	}

	rec := record.New(t.Kind, record.NewHeader(
		record.HeaderTask, t.Name,
		"scheduled", data.Time,
		record.HeaderPriority, t.Priority,
	))
	if t.Kind == record.KindReminder {
		rec.Preamble = "# Reminder: " + title(t.Name)
	} else {
		rec.Preamble = "# Scheduled Task: " + title(t.Name)
	}
	rec.SetSection("Scheduled Time", data.Time)
	rec.SetSection("Instructions", instr.String())
	if o := strings.TrimSpace(out.String()); o != "" {
		rec.SetSection("Output Location", o)
	}
	if t.Kind == record.KindScheduledTask {
		rec.SetSection("Completion", "When complete:\n1. Produce the output above\n2. Move this file to Done/")
	}
	rec.Trailer = "*This is an automated scheduled task*"
	return rec, nil
}

func title(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
