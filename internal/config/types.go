// Package config loads, validates, and watches the bot configuration.
// Files may be JSON or YAML; YAML is coerced to JSON so both formats share
// one strict decoder.
package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage selects the reminder persistence backend. Omitted means the
	// default sqlite driver with a path next to the binary.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Notifier paces outgoing deliveries. Omitted means runtime defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Reminders RemindersConfig `json:"reminders"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// BotName lets group members address commands as /add@name.
	BotName string `json:"bot_name,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls delivery pacing.
//
// Durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// RemindersConfig controls the daily scheduler.
type RemindersConfig struct {
	// Timezone is the IANA zone reminder times are interpreted in,
	// e.g. "Asia/Jakarta". Empty means the system zone.
	Timezone string `json:"timezone,omitempty"`
	// HandlerTimeout bounds one bot command. Go duration string.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}
