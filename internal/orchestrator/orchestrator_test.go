//go:build unix

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskvault/internal/config"
	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/supervisor"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/storage"
)

func testEnv() *config.Env {
	return &config.Env{
		IntervalEnv: config.IntervalEnv{
			SchedulerInterval: time.Hour,
			RouterInterval:    50 * time.Millisecond,
			HealthInterval:    50 * time.Millisecond,
			StatusInterval:    time.Hour,
			GracePeriod:       time.Second,
			ExecutorTimeout:   5 * time.Second,
		},
	}
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	root := t.TempDir()
	v, err := vault.Open(root)
	require.NoError(t, err)
	st, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	file := &config.File{
		Watchers: []config.WatcherConfig{
			{Name: "sleeper", Args: []string{"/bin/sh", "-c", "exec sleep 30"}},
		},
		Schedules: []config.ScheduleConfig{
			{Name: "nag", Kind: "reminder", Trigger: "every 30m", RunAtStart: true},
		},
		Executors: []config.ExecutorConfig{
			{Kind: "outbound-message", DryRun: true},
		},
	}
	o, err := New(testEnv(), v, st, file)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap := o.Supervisor().Snapshot()
		w, ok := snap.Lookup("sleeper")
		return ok && w.State == supervisor.Running
	}, 5*time.Second, 20*time.Millisecond)

	rec := record.New(record.KindOutboundMessage, record.NewHeader(
		"to", "client@example.com",
		"subject", "Invoice",
		record.HeaderRequiresApproval, "true",
	))
	rec.SetSection("Body", "Attached.")
	ref, err := v.Create(vault.PendingApproval, rec, "invoice")
	require.NoError(t, err)
	_, err = v.Move(ref, vault.Approved)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, string(vault.Done), ref.Name))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		reminders, err := v.Collect(ctx, vault.NeedsAction, "REMINDER_*")
		return err == nil && len(reminders) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "Dashboard.md"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	w, _ := o.Supervisor().Snapshot().Lookup("sleeper")
	assert.Equal(t, supervisor.Stopped, w.State)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	_, err = New(testEnv(), v, nil, &config.File{
		Schedules: []config.ScheduleConfig{{Name: "x", Trigger: "never"}},
	})
	assert.Error(t, err)
}
