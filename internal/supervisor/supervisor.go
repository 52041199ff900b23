package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kazz187/taskvault/pkg/cerr"
)

const (
	DefaultHealthInterval = 10 * time.Second
	DefaultGrace          = 5 * time.Second
)

type State string

const (
	NotStarted    State = "not_started"
	Running       State = "running"
	Crashed       State = "crashed"
	FailedToStart State = "failed_to_start"
	Stopped       State = "stopped"
)

// WatcherStatus is the published view of one watcher.
type WatcherStatus struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	HandleID     string    `json:"handle_id,omitempty"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	Restarts     int       `json:"restarts"`
	LastExitCode *int      `json:"last_exit_code,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Snapshot struct {
	Watchers []WatcherStatus `json:"watchers"`
	TakenAt  time.Time       `json:"taken_at"`
}

// Healthy reports whether every watcher is running.
func (s *Snapshot) Healthy() bool {
	for _, w := range s.Watchers {
		if w.State != Running {
			return false
		}
	}
	return true
}

// Lookup returns the status of the named watcher.
func (s *Snapshot) Lookup(name string) (WatcherStatus, bool) {
	for _, w := range s.Watchers {
		if w.Name == name {
			return w, true
		}
	}
	return WatcherStatus{}, false
}

type entry struct {
	desc     Descriptor
	state    State
	handle   *Handle
	restarts int
	lastExit *int
	lastErr  string
}

// Supervisor owns the watcher table. Start, Check, Reload and Stop mutate it
// and must be called from one goroutine; Run is that goroutine. Snapshot may
// be read from anywhere.
type Supervisor struct {
	entries        []*entry
	byName         map[string]*entry
	healthInterval time.Duration
	grace          time.Duration
	debounce       time.Duration
	stdout, stderr io.Writer
	snapshot       atomic.Pointer[Snapshot]
	changed        chan string
}

type Option func(*Supervisor)

func WithHealthInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		s.healthInterval = d
	}
}

// WithGrace sets how long Stop waits after SIGTERM before killing.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = d
	}
}

func WithReloadDebounce(d time.Duration) Option {
	return func(s *Supervisor) {
		s.debounce = d
	}
}

// WithOutput routes child stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout, s.stderr = stdout, stderr
	}
}

func New(descs []Descriptor, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		byName:         make(map[string]*entry, len(descs)),
		healthInterval: DefaultHealthInterval,
		grace:          DefaultGrace,
		debounce:       ReloadDebounce,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		changed:        make(chan string, len(descs)+1),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range descs {
		if d.Name == "" {
			return nil, cerr.Errorf(cerr.InvalidArgument, "watcher without a name")
		}
		if _, dup := s.byName[d.Name]; dup {
			return nil, cerr.Errorf(cerr.InvalidArgument, "duplicate watcher %s", d.Name)
		}
		e := &entry{desc: d, state: NotStarted}
		s.entries = append(s.entries, e)
		s.byName[d.Name] = e
	}
	s.publish()
	return s, nil
}

// Snapshot returns the latest published table.
func (s *Supervisor) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *Supervisor) publish() {
	snap := &Snapshot{
		Watchers: make([]WatcherStatus, 0, len(s.entries)),
		TakenAt:  time.Now(),
	}
	for _, e := range s.entries {
		st := WatcherStatus{
			Name:         e.desc.Name,
			State:        e.state,
			Restarts:     e.restarts,
			LastExitCode: e.lastExit,
			LastError:    e.lastErr,
		}
		if e.handle != nil && e.state == Running {
			st.HandleID = e.handle.ID
			st.PID = e.handle.PID
			st.StartedAt = e.handle.StartedAt
		}
		snap.Watchers = append(snap.Watchers, st)
	}
	sort.Slice(snap.Watchers, func(i, j int) bool {
		return snap.Watchers[i].Name < snap.Watchers[j].Name
	})
	s.snapshot.Store(snap)
}

func (s *Supervisor) launch(ctx context.Context, e *entry) error {
	h, err := Start(e.desc, s.stdout, s.stderr)
	if err != nil {
		e.handle = nil
		e.lastErr = err.Error()
		return err
	}
	e.handle = h
	e.state = Running
	e.lastErr = ""
	slog.InfoContext(ctx, "watcher started", "watcher", e.desc.Name, "pid", h.PID, "handle", h.ID)
	return nil
}

// Start launches every watcher that has not been started. A watcher that
// cannot be launched is marked FailedToStart and is not retried.
func (s *Supervisor) Start(ctx context.Context) {
	for _, e := range s.entries {
		if e.state != NotStarted {
			continue
		}
		if err := s.launch(ctx, e); err != nil {
			e.state = FailedToStart
			cerr.Log(ctx, "watcher failed to start", err, "watcher", e.desc.Name)
		}
	}
	s.publish()
}

// Check is one health pass. A watcher found dead is logged with its exit
// code and gets one restart attempt; a crashed watcher whose earlier restart
// failed gets another attempt on every pass.
func (s *Supervisor) Check(ctx context.Context) {
	for _, e := range s.entries {
		switch e.state {
		case Running:
			if !e.handle.Exited() {
				continue
			}
			code := e.handle.ExitCode()
			e.lastExit = &code
			e.state = Crashed
			slog.WarnContext(ctx, "watcher exited unexpectedly",
				"watcher", e.desc.Name, "exit_code", code, "pid", e.handle.PID)
		case Crashed:
		default:
			continue
		}
		if err := s.launch(ctx, e); err != nil {
			cerr.Log(ctx, "watcher restart failed", err, "watcher", e.desc.Name)
			continue
		}
		e.restarts++
	}
	s.publish()
}

// Reload restarts the named watcher gracefully. Watchers that are not
// running are left alone.
func (s *Supervisor) Reload(ctx context.Context, name string) error {
	e, ok := s.byName[name]
	if !ok {
		return cerr.Errorf(cerr.NotFound, "no watcher named %s", name)
	}
	if e.state != Running {
		return nil
	}
	slog.InfoContext(ctx, "reloading watcher", "watcher", name)
	s.stopHandles(ctx, []*Handle{e.handle})
	defer s.publish()
	if err := s.launch(ctx, e); err != nil {
		e.state = Crashed
		return err
	}
	e.restarts++
	return nil
}

// Stop terminates every running watcher: SIGTERM to all, one shared grace
// period, then a kill for whatever remains. Calling it again is a no-op.
func (s *Supervisor) Stop(ctx context.Context) {
	var handles []*Handle
	for _, e := range s.entries {
		if e.state == Running && e.handle != nil {
			handles = append(handles, e.handle)
		}
		if e.state != FailedToStart {
			e.state = Stopped
		}
	}
	s.stopHandles(ctx, handles)
	s.publish()
}

func (s *Supervisor) stopHandles(ctx context.Context, handles []*Handle) {
	for _, h := range handles {
		if err := h.Terminate(); err != nil {
			slog.WarnContext(ctx, "failed to signal watcher", "watcher", h.Name, "pid", h.PID, "error", err)
		}
	}
	deadline := time.NewTimer(s.grace)
	defer deadline.Stop()
	expired := false
	for _, h := range handles {
		if !expired {
			select {
			case <-h.Done():
				slog.InfoContext(ctx, "watcher stopped", "watcher", h.Name, "pid", h.PID)
				continue
			case <-deadline.C:
				expired = true
			}
		} else if h.Exited() {
			continue
		}
		slog.WarnContext(ctx, "grace period expired, killing watcher", "watcher", h.Name, "pid", h.PID)
		if err := h.Kill(); err != nil {
			slog.WarnContext(ctx, "failed to kill watcher", "watcher", h.Name, "pid", h.PID, "error", err)
		}
	}
	// Reap what was killed, bounded so shutdown cannot hang.
	reap := time.NewTimer(s.grace)
	defer reap.Stop()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-reap.C:
			slog.ErrorContext(ctx, "watcher did not exit after kill", "watcher", h.Name, "pid", h.PID)
			return
		}
	}
}

// Run starts the watchers and supervises them until ctx is done, then stops
// them all.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, e := range s.entries {
		if !e.desc.ReloadOnChange || len(e.desc.Args) == 0 {
			continue
		}
		path := e.desc.Script
		if path == "" {
			p, err := exec.LookPath(e.desc.Args[0])
			if err != nil {
				continue
			}
			path = p
		}
		if err := watchFile(ctx, e.desc.Name, path, s.debounce, s.changed); err != nil {
			slog.WarnContext(ctx, "reload on change disabled", "watcher", e.desc.Name, "error", err)
		}
	}
	s.Start(ctx)

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			s.Check(ctx)
		case name := <-s.changed:
			if err := s.Reload(ctx, name); err != nil {
				cerr.Log(ctx, "watcher reload failed", err, "watcher", name)
			}
		}
	}
}
