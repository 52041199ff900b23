package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kazz187/taskvault/pkg/storage"
)

type BaseEnv struct {
	Env        string `envconfig:"ENV" default:"local"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	VaultPath  string `envconfig:"VAULT_PATH" default:"."`
	ConfigFile string `envconfig:"CONFIG_FILE" default:"taskvault.yaml"`
}

type HTTPEnv struct {
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	// An empty port disables the status server.
	HTTPPort string `envconfig:"HTTP_PORT" default:""`
}

type StorageEnv struct {
	// Type selects where dedup files and the dashboard live. Items
	// themselves always stay on the local vault tree.
	Type     string `envconfig:"STORAGE_TYPE" default:"local"`
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskvault/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type IntervalEnv struct {
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
	RouterInterval    time.Duration `envconfig:"ROUTER_INTERVAL" default:"30s"`
	HealthInterval    time.Duration `envconfig:"HEALTH_INTERVAL" default:"10s"`
	StatusInterval    time.Duration `envconfig:"STATUS_INTERVAL" default:"4h"`
	GracePeriod       time.Duration `envconfig:"GRACE_PERIOD" default:"5s"`
	ExecutorTimeout   time.Duration `envconfig:"EXECUTOR_TIMEOUT" default:"2m"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT"`
}

type Env struct {
	BaseEnv
	HTTPEnv
	StorageEnv
	IntervalEnv
	VAPIDEnv
}

const namespace = "TASKVAULT"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"SCHEDULER_INTERVAL": env.SchedulerInterval,
		"ROUTER_INTERVAL":    env.RouterInterval,
		"HEALTH_INTERVAL":    env.HealthInterval,
		"STATUS_INTERVAL":    env.StatusInterval,
		"GRACE_PERIOD":       env.GracePeriod,
		"EXECUTOR_TIMEOUT":   env.ExecutorTimeout,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("failed to load env: %s_%s must be positive", namespace, name)
		}
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsLocal selects human readable console logs.
func (e *BaseEnv) IsLocal() bool {
	return e.Env == "local"
}

// StorageOptions points local storage at the vault root.
func (e *StorageEnv) StorageOptions(vaultRoot string) storage.Options {
	return storage.Options{
		Type:      storage.Type(e.Type),
		LocalPath: vaultRoot,
		S3Bucket:  e.S3Bucket,
		S3Prefix:  e.S3Prefix,
		S3Region:  e.S3Region,
	}
}
