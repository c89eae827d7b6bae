package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/services/notify"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// mapStorageConfig resolves the storage section. An omitted section means
// the default sqlite database next to the binary.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		sc = &config.StorageConfig{Driver: "sqlite", Path: "./reminders.db"}
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./reminders.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notify.Config{}, nil
	}
	if nc.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.HistorySize < 0 {
		return notify.Config{}, fmt.Errorf("notifier.history_size must be >= 0")
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		RatePerSec:  nc.RatePerSec,
		SendTimeout: sendTimeout,
		HistorySize: nc.HistorySize,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
