package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kazz187/taskvault/internal/config"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/clog"
	"github.com/kazz187/taskvault/pkg/storage"
)

// runtime is what every command needs: the environment, the vault, the
// storage backend for state files and the config file.
type runtime struct {
	env     *config.Env
	vault   *vault.Vault
	storage storage.Storage
	file    *config.File
	logFile *clog.DailyFileHandler
}

func setup(ctx context.Context, component string) (*runtime, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	v, err := vault.Open(env.VaultPath)
	if err != nil {
		return nil, err
	}
	if err := v.Init(); err != nil {
		return nil, err
	}

	rt := &runtime{env: env, vault: v}
	rt.logFile = setupLogger(env, v.LogsDir(), component)

	rt.storage, err = storage.New(ctx, env.StorageOptions(v.Root()))
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	path := env.ConfigFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.Root(), path)
	}
	rt.file, err = config.LoadFile(path, self)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) close() {
	if err := rt.logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

// setupLogger sends records to the console and to the component's daily
// file under Logs/.
func setupLogger(env *config.Env, logsDir, component string) *clog.DailyFileHandler {
	level := env.SlogLevel()
	var console slog.Handler
	if env.IsLocal() {
		console = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		console = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	file := clog.NewDailyFileHandler(logsDir, component, level)
	handler := clog.NewMultiHandler(console, file)
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)).With("component", component))
	return file
}
