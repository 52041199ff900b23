package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
	"github.com/kazz187/taskvault/pkg/clog"
	"github.com/kazz187/taskvault/pkg/panicerr"
)

const DefaultExecutorTimeout = 2 * time.Minute

// Executor performs the real-world side effect of one approved item.
type Executor interface {
	Execute(ctx context.Context, kind record.Kind, rec *record.Record) error
}

type ExecutorFunc func(ctx context.Context, kind record.Kind, rec *record.Record) error

func (f ExecutorFunc) Execute(ctx context.Context, kind record.Kind, rec *record.Record) error {
	return f(ctx, kind, rec)
}

// Resource is an expensive shared dependency of an executor, such as an
// authenticated session. A drain acquires it at most once and releases it
// when the drain ends, whatever happened to the individual items. The
// context given to Acquire is bounded by the executor timeout and ends once
// Acquire returns.
// Implementations are used as map keys and must be comparable, typically
// pointers.
type Resource interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type route struct {
	executor Executor
	resource Resource
}

// Router drains the Approved partition.
type Router struct {
	vault   *vault.Vault
	routes  map[record.Kind]route
	timeout time.Duration
}

type Option func(*Router)

func WithExecutorTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

func New(v *vault.Vault, opts ...Option) *Router {
	r := &Router{
		vault:   v,
		routes:  map[record.Kind]route{},
		timeout: DefaultExecutorTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds kind to exec. res may be nil.
func (r *Router) Register(kind record.Kind, exec Executor, res Resource) {
	r.routes[kind] = route{executor: exec, resource: res}
}

func (r *Router) Kinds() []record.Kind {
	return slices.Sorted(maps.Keys(r.routes))
}

// Result tallies one drain.
type Result struct {
	Done      map[record.Kind]int
	Failed    map[record.Kind]int
	Unknown   int
	Malformed int
	Vanished  int
}

func (res Result) Total() int {
	n := res.Unknown + res.Malformed + res.Vanished
	for _, c := range res.Done {
		n += c
	}
	for _, c := range res.Failed {
		n += c
	}
	return n
}

type acquired struct {
	release func()
	err     error
}

// Drain processes every item currently in Approved, one at a time. An item
// whose executor succeeds moves to Done. Everything else stays in Approved:
// failed executions for a later retry, unknown kinds and malformed records
// for a human to look at. One item's failure never stops the drain.
func (r *Router) Drain(ctx context.Context) (Result, error) {
	res := Result{
		Done:   map[record.Kind]int{},
		Failed: map[record.Kind]int{},
	}
	refs, err := r.vault.Collect(ctx, vault.Approved, "*.md")
	if err != nil {
		return res, fmt.Errorf("failed to list approved items: %w", err)
	}
	if len(refs) == 0 {
		return res, nil
	}
	slog.InfoContext(ctx, "draining approved items", "count", len(refs))

	resources := map[Resource]*acquired{}
	defer func() {
		for _, a := range resources {
			if a.release != nil {
				a.release()
			}
		}
	}()

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.process(ctx, ref, resources, &res)
	}

	slog.InfoContext(ctx, "drain finished",
		"done", sum(res.Done), "failed", sum(res.Failed),
		"unknown", res.Unknown, "malformed", res.Malformed)
	return res, nil
}

// Run adapts Drain to a loop iteration.
func (r *Router) Run(ctx context.Context) error {
	_, err := r.Drain(ctx)
	return err
}

func (r *Router) process(ctx context.Context, ref vault.Ref, resources map[Resource]*acquired, res *Result) {
	itemCtx := clog.ContextWithSlog(ctx)
	clog.AddAttributes(itemCtx, clog.GetAttributes(ctx))
	clog.AddAttribute(itemCtx, "item", ref.Name)

	rec, err := r.vault.Read(ref)
	switch {
	case cerr.IsCode(err, cerr.NotFound):
		slog.InfoContext(itemCtx, "approved item vanished before processing")
		res.Vanished++
		return
	case cerr.IsCode(err, cerr.ParseError):
		slog.ErrorContext(itemCtx, "malformed approved item left in place", clog.ErrorAttributeKey, err)
		res.Malformed++
		return
	case err != nil:
		slog.ErrorContext(itemCtx, "failed to read approved item", clog.ErrorAttributeKey, err)
		res.Malformed++
		return
	}

	kind, ok := rec.Kind()
	rt, routed := r.routes[kind]
	if !ok || !routed {
		slog.WarnContext(itemCtx, "unknown item kind, left in place", "type", rec.Header.Value(record.HeaderType))
		res.Unknown++
		return
	}
	clog.AddAttribute(itemCtx, "kind", string(kind))

	if rt.resource != nil {
		a, ok := resources[rt.resource]
		if !ok {
			a = &acquired{}
			a.release, a.err = r.acquire(ctx, rt.resource)
			if a.err != nil {
				slog.ErrorContext(itemCtx, "failed to acquire executor resource", clog.ErrorAttributeKey, a.err)
			}
			resources[rt.resource] = a
		}
		if a.err != nil {
			res.Failed[kind]++
			return
		}
	}

	if err := r.execute(itemCtx, rt.executor, kind, rec); err != nil {
		cerr.Log(itemCtx, "action failed, item left in Approved", err)
		res.Failed[kind]++
		return
	}

	done, err := r.vault.MoveDisambiguated(ref, vault.Done)
	if err != nil {
		slog.ErrorContext(itemCtx, "action succeeded but item could not be archived", clog.ErrorAttributeKey, err)
		res.Failed[kind]++
		return
	}
	slog.InfoContext(itemCtx, "action completed", "archived", done.String())
	res.Done[kind]++
}

// acquire bounds resource acquisition by the executor timeout. The
// context passed to Acquire ends when acquire returns.
func (r *Router) acquire(ctx context.Context, res Resource) (func(), error) {
	acqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var release func()
	err := panicerr.CallContext(acqCtx, func(ctx context.Context) error {
		var err error
		release, err = res.Acquire(ctx)
		return err
	})
	if err == nil {
		return release, nil
	}
	if errors.Is(acqCtx.Err(), context.DeadlineExceeded) {
		return nil, cerr.NewError(cerr.ExternalCallFailure, fmt.Sprintf("resource acquisition timed out after %s", r.timeout), err)
	}
	return nil, err
}

func (r *Router) execute(ctx context.Context, exec Executor, kind record.Kind, rec *record.Record) error {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := panicerr.CallContext(execCtx, func(ctx context.Context) error {
		return exec.Execute(ctx, kind, rec)
	})
	if err == nil {
		return nil
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return cerr.NewError(cerr.ExternalCallFailure, fmt.Sprintf("%s executor timed out after %s", kind, r.timeout), err)
	}
	var ce *cerr.Error
	if errors.As(err, &ce) {
		return err
	}
	return cerr.NewError(cerr.ExternalCallFailure, fmt.Sprintf("%s executor failed", kind), err)
}

func sum(m map[record.Kind]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}
