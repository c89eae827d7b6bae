package storage

import (
	"errors"
	"strings"

	"remindbot/pkg/logx"
)

// Open initializes the configured store. The sqlite driver is the default;
// "memory" is a deliberate capability reduction (no restart recovery).
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		log.Warn("memory storage selected; reminders will not survive restart")
		return newMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
