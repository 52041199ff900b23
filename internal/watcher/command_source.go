package watcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kazz187/taskvault/internal/executor"
	"github.com/kazz187/taskvault/internal/record"
)

const DefaultFetchTimeout = time.Minute

// CommandSource runs an external bridge program on every fetch. The program
// prints one JSON Event per line on stdout. Mail and chat bridges plug in
// this way.
type CommandSource struct {
	name        string
	cmd         executor.Command
	defaultKind record.Kind
	timeout     time.Duration
}

func NewCommandSource(name string, cmd executor.Command, defaultKind record.Kind) *CommandSource {
	return &CommandSource{
		name:        name,
		cmd:         cmd,
		defaultKind: defaultKind,
		timeout:     DefaultFetchTimeout,
	}
}

func (s *CommandSource) Name() string {
	return s.name
}

func (s *CommandSource) Fetch(ctx context.Context) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.cmd.Output(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeEvents(out, s.defaultKind)
}

// DecodeEvents parses JSON lines. Blank lines are skipped and an event
// without a kind gets defaultKind.
func DecodeEvents(data []byte, defaultKind record.Kind) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Kind == "" {
			ev.Kind = defaultKind
		}
		if k, ok := record.ParseKind(string(ev.Kind)); ok {
			ev.Kind = k
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
