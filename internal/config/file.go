package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskvault/internal/executor"
	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/router"
	"github.com/kazz187/taskvault/internal/scheduler"
	"github.com/kazz187/taskvault/internal/status"
	"github.com/kazz187/taskvault/internal/supervisor"
	"github.com/kazz187/taskvault/internal/watcher"
)

// File is the YAML configuration: what to supervise, what to schedule and
// how approved items are executed.
type File struct {
	Watchers      []WatcherConfig       `yaml:"watchers"`
	Pollers       []PollerConfig        `yaml:"pollers"`
	Schedules     []ScheduleConfig      `yaml:"schedules"`
	Executors     []ExecutorConfig      `yaml:"executors"`
	Sessions      []SessionConfig       `yaml:"sessions"`
	Subscriptions []status.Subscription `yaml:"push_subscriptions"`
}

type WatcherConfig struct {
	Name string `yaml:"name"`
	// Command is a shell-style command line. Args, when set, is used
	// verbatim instead.
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Dir            string            `yaml:"dir"`
	Env            map[string]string `yaml:"env"`
	Script         string            `yaml:"script"`
	ReloadOnChange bool              `yaml:"reload_on_change"`
}

// PollerConfig describes a bridge run by "watch poll <name>".
type PollerConfig struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"command"`
	Kind     string   `yaml:"kind"`
	Keywords []string `yaml:"keywords"`
	// Store is the dedup file, relative to the vault root.
	Store    string        `yaml:"store"`
	Interval time.Duration `yaml:"interval"`
}

type ScheduleConfig struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	Trigger      string `yaml:"trigger"`
	Instructions string `yaml:"instructions"`
	Output       string `yaml:"output"`
	Priority     string `yaml:"priority"`
	Condition    string `yaml:"condition"`
	RunAtStart   bool   `yaml:"run_at_start"`
}

type ExecutorConfig struct {
	Kind    string `yaml:"kind"`
	Command string `yaml:"command"`
	// DryRun logs the action instead of running anything.
	DryRun  bool   `yaml:"dry_run"`
	Session string `yaml:"session"`
}

type SessionConfig struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	Stop  string `yaml:"stop"`
}

// Default is the configuration used when no file exists: the inbox watcher
// run from self and the built-in schedule.
func Default(self string) *File {
	return &File{
		Watchers: []WatcherConfig{
			{Name: "inbox", Args: []string{self, "watch", "inbox"}},
		},
	}
}

// LoadFile reads path. A missing file yields Default(self). Unknown keys
// are rejected so a typo does not silently drop a setting.
func LoadFile(path, self string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(self), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) Descriptors() ([]supervisor.Descriptor, error) {
	descs := make([]supervisor.Descriptor, 0, len(f.Watchers))
	for _, w := range f.Watchers {
		d := supervisor.Descriptor{
			Name:           w.Name,
			Args:           w.Args,
			Dir:            w.Dir,
			Script:         w.Script,
			ReloadOnChange: w.ReloadOnChange,
		}
		if len(d.Args) == 0 {
			cmd, err := executor.ParseCommand(w.Command, nil)
			if err != nil {
				return nil, fmt.Errorf("watcher %s: %w", w.Name, err)
			}
			d.Args = cmd.Args
		}
		for _, k := range slices.Sorted(maps.Keys(w.Env)) {
			d.Env = append(d.Env, k+"="+w.Env[k])
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (f *File) Poller(name string) (PollerConfig, error) {
	for _, p := range f.Pollers {
		if p.Name == name {
			if p.Store == "" {
				p.Store = "." + p.Name + "_processed.json"
			}
			if p.Interval <= 0 {
				p.Interval = time.Minute
			}
			return p, nil
		}
	}
	return PollerConfig{}, fmt.Errorf("no poller named %q", name)
}

// Source builds the command source for p.
func (p PollerConfig) Source() (*watcher.CommandSource, error) {
	cmd, err := executor.ParseCommand(p.Command, nil)
	if err != nil {
		return nil, fmt.Errorf("poller %s: %w", p.Name, err)
	}
	kind, ok := record.ParseKind(p.Kind)
	if !ok {
		return nil, fmt.Errorf("poller %s: unknown kind %q", p.Name, p.Kind)
	}
	return watcher.NewCommandSource(p.Name, cmd, kind), nil
}

// Tasks returns the configured schedule, or the built-in one when none is
// configured.
func (f *File) Tasks() ([]scheduler.Task, error) {
	if len(f.Schedules) == 0 {
		return scheduler.Defaults(), nil
	}
	tasks := make([]scheduler.Task, 0, len(f.Schedules))
	for _, s := range f.Schedules {
		trigger, err := scheduler.ParseTrigger(s.Trigger)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
		}
		kind := record.KindScheduledTask
		if s.Kind != "" {
			k, ok := record.ParseKind(s.Kind)
			if !ok {
				return nil, fmt.Errorf("schedule %s: unknown kind %q", s.Name, s.Kind)
			}
			kind = k
		}
		tasks = append(tasks, scheduler.Task{
			Name:         s.Name,
			Kind:         kind,
			Trigger:      trigger,
			Instructions: s.Instructions,
			Output:       s.Output,
			Priority:     s.Priority,
			Condition:    s.Condition,
			RunAtStart:   s.RunAtStart,
		})
	}
	return tasks, nil
}

// RegisterExecutors adds an executor to r for every configured kind.
// Executors naming the same session share one Session, so it is started at
// most once per drain.
func (f *File) RegisterExecutors(r *router.Router) error {
	sessions := map[string]*executor.Session{}
	for _, sc := range f.Sessions {
		start, err := executor.ParseCommand(sc.Start, nil)
		if err != nil {
			return fmt.Errorf("session %s: %w", sc.Name, err)
		}
		s := &executor.Session{Name: sc.Name, Start: start}
		if sc.Stop != "" {
			stop, err := executor.ParseCommand(sc.Stop, nil)
			if err != nil {
				return fmt.Errorf("session %s: %w", sc.Name, err)
			}
			s.Stop = &stop
		}
		sessions[sc.Name] = s
	}

	for _, ec := range f.Executors {
		kind, ok := record.ParseKind(ec.Kind)
		if !ok {
			return fmt.Errorf("executor: unknown kind %q", ec.Kind)
		}
		var exec router.Executor
		if ec.DryRun {
			exec = executor.LogExecutor{}
		} else {
			cmd, err := executor.ParseCommand(ec.Command, nil)
			if err != nil {
				return fmt.Errorf("executor %s: %w", kind, err)
			}
			exec = executor.NewCommandExecutor(cmd)
		}
		var res router.Resource
		if ec.Session != "" {
			s, ok := sessions[ec.Session]
			if !ok {
				return fmt.Errorf("executor %s: unknown session %q", kind, ec.Session)
			}
			res = s
		}
		r.Register(kind, exec, res)
	}
	return nil
}

// VAPID converts the env keys for the notifier.
func (e *VAPIDEnv) VAPID() status.VAPID {
	return status.VAPID{
		PublicKey:  e.VAPIDPublicKey,
		PrivateKey: e.VAPIDPrivateKey,
		Contact:    e.VAPIDContact,
	}
}
