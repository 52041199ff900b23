package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"mvdan.cc/sh/v3/shell"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/pkg/cerr"
)

const (
	outputTail = 2048
	waitDelay  = 5 * time.Second
)

// Command is a parsed command line.
type Command struct {
	Args []string
	Dir  string
	Env  []string
}

// ParseCommand splits line with shell quoting rules, expanding $VARS through
// env (os.Getenv when nil).
func ParseCommand(line string, env func(string) string) (Command, error) {
	if env == nil {
		env = os.Getenv
	}
	args, err := shell.Fields(line, env)
	if err != nil {
		return Command{}, fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	return Command{Args: args}, nil
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

func (c Command) build(ctx context.Context, extraEnv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(append(os.Environ(), c.Env...), extraEnv...)
	cmd.WaitDelay = waitDelay
	return cmd
}

// run executes the command to completion, mapping every failure to
// ExternalCallFailure with the tail of stderr attached.
func (c Command) run(ctx context.Context, stdin []byte, extraEnv []string) ([]byte, error) {
	cmd := c.build(ctx, extraEnv)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	msg := fmt.Sprintf("%s failed", c.Args[0])
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg = fmt.Sprintf("%s exited with code %d", c.Args[0], exitErr.ExitCode())
	}
	if tail := tailOf(stderr.Bytes()); tail != "" {
		err = fmt.Errorf("%w: %s", err, tail)
	}
	return stdout.Bytes(), cerr.NewError(cerr.ExternalCallFailure, msg, err)
}

// Output runs the command to completion and returns its stdout.
func (c Command) Output(ctx context.Context) ([]byte, error) {
	return c.run(ctx, nil, nil)
}

func tailOf(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(b)
}

// CommandExecutor hands an approved item to an external program: the
// rendered record on stdin, the kind and every header field in the
// environment. Exit status zero means the action happened.
type CommandExecutor struct {
	cmd Command
}

func NewCommandExecutor(cmd Command) *CommandExecutor {
	return &CommandExecutor{cmd: cmd}
}

func (e *CommandExecutor) Execute(ctx context.Context, kind record.Kind, rec *record.Record) error {
	data, err := record.Format(rec)
	if err != nil {
		return err
	}
	env := []string{"TASKVAULT_KIND=" + string(kind)}
	for k, v := range rec.Header.All() {
		env = append(env, "TASKVAULT_HEADER_"+envName(k)+"="+v)
	}
	out, err := e.cmd.run(ctx, data, env)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "executor output", "command", e.cmd.String(), "stdout", tailOf(out))
	return nil
}

func envName(key string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, key)
}

// LogExecutor only logs the action it would take. It lets a vault be run
// end to end without any outbound side effect.
type LogExecutor struct{}

func (LogExecutor) Execute(ctx context.Context, kind record.Kind, rec *record.Record) error {
	args := []any{"kind", string(kind)}
	for _, key := range []string{"to", "subject", record.HeaderTask} {
		if v, ok := rec.Header.Get(key); ok {
			args = append(args, key, v)
		}
	}
	slog.InfoContext(ctx, "dry run, action not performed", args...)
	return nil
}
