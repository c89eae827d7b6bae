// Package notify delivers reminder texts through a transport adapter.
// Sends are synchronous and single-attempt: a failed delivery is reported
// to the caller, never retried here.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Config controls delivery pacing.
type Config struct {
	RatePerSec  int           // token bucket rate, default 3
	SendTimeout time.Duration // per-send bound, default 10s
	HistorySize int           // kept sends for /status style introspection, default 100
}

type HistoryItem struct {
	At        time.Time
	Recipient int64
	Text      string
	Err       string
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter transport.Adapter
	log     logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

// Apply updates pacing at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes don't block.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to the recipient chat. It blocks for rate limiting and
// returns the transport error, if any, to the caller.
func (s *Service) Send(ctx context.Context, recipient int64, text string) error {
	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.adapter.SendText(callCtx, transport.ChatTarget{ChatID: recipient}, text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		s.log.Warn("delivery failed", logx.Int64("chat_id", recipient), logx.Err(err))
		s.appendHistory(recipient, text, err)
		return fmt.Errorf("send to %d: %w", recipient, err)
	}
	s.log.Debug("delivered", logx.Int64("chat_id", recipient))
	s.appendHistory(recipient, text, nil)
	return nil
}

// Snapshot returns recent send history, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(recipient int64, text string, err error) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	item := HistoryItem{At: time.Now(), Recipient: recipient, Text: text}
	if err != nil {
		item.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
