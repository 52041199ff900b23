package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskvault/internal/config"
	"github.com/kazz187/taskvault/internal/loop"
	"github.com/kazz187/taskvault/internal/router"
	"github.com/kazz187/taskvault/internal/scheduler"
	"github.com/kazz187/taskvault/internal/status"
	"github.com/kazz187/taskvault/internal/supervisor"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// Orchestrator runs the scheduler, the approval router, the watcher
// supervisor and the status aggregator side by side over one vault. They
// share nothing but the vault tree and stop together when the context ends.
type Orchestrator struct {
	env        *config.Env
	vault      *vault.Vault
	scheduler  *scheduler.Scheduler
	router     *router.Router
	supervisor *supervisor.Supervisor
	aggregator *status.Aggregator
	server     *status.Server
}

func New(env *config.Env, v *vault.Vault, st storage.Storage, file *config.File) (*Orchestrator, error) {
	tasks, err := file.Tasks()
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(v, tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	rt := router.New(v, router.WithExecutorTimeout(env.ExecutorTimeout))
	if err := file.RegisterExecutors(rt); err != nil {
		return nil, err
	}

	descs, err := file.Descriptors()
	if err != nil {
		return nil, err
	}
	sup, err := supervisor.New(descs,
		supervisor.WithHealthInterval(env.HealthInterval),
		supervisor.WithGrace(env.GracePeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build supervisor: %w", err)
	}

	aggOpts := []status.Option{status.WithWatchers(sup)}
	if notifier := status.NewNotifier(env.VAPID(), file.Subscriptions, nil); notifier.Enabled() && len(file.Subscriptions) > 0 {
		aggOpts = append(aggOpts, status.WithNotifier(notifier))
	}
	agg := status.NewAggregator(v, st, aggOpts...)

	o := &Orchestrator{
		env:        env,
		vault:      v,
		scheduler:  sched,
		router:     rt,
		supervisor: sup,
		aggregator: agg,
	}
	if env.HTTPPort != "" {
		o.server = status.NewServer(agg, env.HTTPHost, env.HTTPPort)
	}
	return o, nil
}

// Supervisor exposes the watcher table for read-only snapshots.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Run blocks until ctx is done and every loop has unwound.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.vault.Init(); err != nil {
		return err
	}
	slog.Info("orchestrator started", "vault", o.vault.Root(), "executors", o.router.Kinds())

	routerOpts := []loop.Option{loop.Immediately()}
	approvedDir := filepath.Join(o.vault.Root(), string(vault.Approved))
	if nudge, err := loop.WatchDir(ctx, approvedDir, loop.DefaultSettle); err != nil {
		slog.Warn("approved change notifications unavailable, polling only", "error", err)
	} else {
		routerOpts = append(routerOpts, loop.WithNudge(nudge))
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		if err := o.supervisor.Run(ctx); err != nil {
			slog.Error("supervisor stopped with error", "error", err)
		}
	})
	loops := []*loop.Loop{
		loop.New("scheduler", o.env.SchedulerInterval, o.scheduler.Run, loop.Immediately()),
		loop.New("router", o.env.RouterInterval, o.router.Run, routerOpts...),
		loop.New("status", o.env.StatusInterval, o.aggregator.Publish, loop.Immediately()),
	}
	for _, l := range loops {
		wg.Go(func() { l.Run(ctx) })
	}

	var serveErr error
	if o.server != nil {
		wg.Go(func() {
			if err := o.server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
				serveErr = err
			}
		})
		wg.Go(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := o.server.Shutdown(shutdownCtx); err != nil {
				slog.Error("status server shutdown error", "error", err)
			}
		})
	}

	wg.Wait()
	slog.Info("orchestrator stopped")
	return serveErr
}
