package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskvault/pkg/cerr"
)

// Descriptor says how to launch one watcher.
type Descriptor struct {
	Name string
	Args []string
	Dir  string
	Env  []string
	// Script is the file the command runs, when that is not the executable
	// itself. It must exist at launch and is what ReloadOnChange watches.
	Script         string
	ReloadOnChange bool
}

// Handle is one launched process. Every launch gets a new ID, so a
// restarted watcher is a new Handle under the same name.
type Handle struct {
	ID        string
	Name      string
	PID       int
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start validates d and launches it. Problems with the executable, the
// script or the working directory are reported as LaunchError.
func Start(d Descriptor, stdout, stderr io.Writer) (*Handle, error) {
	if len(d.Args) == 0 {
		return nil, cerr.Errorf(cerr.LaunchError, "watcher %s has no command", d.Name)
	}
	path, err := exec.LookPath(d.Args[0])
	if err != nil {
		return nil, cerr.NewError(cerr.LaunchError, fmt.Sprintf("watcher %s: executable %s not found", d.Name, d.Args[0]), err)
	}
	if d.Script != "" {
		if _, err := os.Stat(d.Script); err != nil {
			return nil, cerr.NewError(cerr.LaunchError, fmt.Sprintf("watcher %s: script %s missing", d.Name, d.Script), err)
		}
	}
	if d.Dir != "" {
		if fi, err := os.Stat(d.Dir); err != nil || !fi.IsDir() {
			return nil, cerr.NewError(cerr.LaunchError, fmt.Sprintf("watcher %s: working directory %s unusable", d.Name, d.Dir), err)
		}
	}

	cmd := exec.Command(path, d.Args[1:]...)
	cmd.Dir = d.Dir
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd)
	if err := cmd.Start(); err != nil {
		return nil, cerr.NewError(cerr.LaunchError, fmt.Sprintf("watcher %s: failed to start", d.Name), err)
	}

	h := &Handle{
		ID:        ulid.Make().String(),
		Name:      d.Name,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Exited reports, without blocking, whether the process has ended.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed once the process has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode is the process exit code, -1 if it was killed by a signal or has
// not exited yet.
func (h *Handle) ExitCode() int {
	if !h.Exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Err is the error from waiting on the process, valid once Exited is true.
func (h *Handle) Err() error {
	if !h.Exited() {
		return nil
	}
	return h.err
}

// Wait blocks until the process ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate asks the process to exit.
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	if err := terminate(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Kill ends the process immediately.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	if err := kill(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
