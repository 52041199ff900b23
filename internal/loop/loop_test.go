package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_TicksAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	l := New("test", 10*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestLoop_CancelInterruptsLongWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New("slow", time.Hour, func(context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait was not cancellable")
	}
}

func TestLoop_ErrorsAndPanicsDoNotStopIt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var n atomic.Int32
	l := New("flaky", 5*time.Millisecond, func(context.Context) error {
		switch n.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		}
		return nil
	}, Immediately())
	go l.Run(ctx)

	require.Eventually(t, func() bool { return n.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestLoop_Nudge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nudge := make(chan struct{}, 1)
	ran := make(chan struct{}, 10)
	l := New("nudged", time.Hour, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, WithNudge(nudge))
	go l.Run(ctx)

	nudge <- struct{}{}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("nudge did not wake the loop")
	}
	assert.Equal(t, "nudged", l.Name())
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWatchDir(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	ch, err := WatchDir(ctx, dir, 20*time.Millisecond)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"+string(rune('a'+i))), []byte("x"), 0o644))
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	_, err = WatchDir(ctx, filepath.Join(dir, "missing"), 0)
	assert.Error(t, err)
}
