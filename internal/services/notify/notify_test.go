package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sends []sentText
	err   error
}

type sentText struct {
	chatID int64
	text   string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sends = append(f.sends, sentText{chatID: to.ChatID, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) sent() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sends...)
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100}, ad, logx.Nop())

	if err := s.Send(context.Background(), 42, "Buy milk"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := ad.sent()
	if len(got) != 1 || got[0].chatID != 42 || got[0].text != "Buy milk" {
		t.Fatalf("sent = %+v", got)
	}

	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].Err != "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestSendReturnsTransportError(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("telegram: 403 forbidden")
	ad := &fakeAdapter{err: sentinel}
	s := New(Config{RatePerSec: 100}, ad, logx.Nop())

	err := s.Send(context.Background(), 42, "Buy milk")
	if !errors.Is(err, sentinel) {
		t.Fatalf("Send err = %v, want wrapped %v", err, sentinel)
	}

	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].Err == "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestSendHonoursContext(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	// Rate 1/s with burst 1: the second send must wait, so a cancelled
	// context aborts it inside the limiter.
	s := New(Config{RatePerSec: 1}, ad, logx.Nop())

	if err := s.Send(context.Background(), 1, "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, 1, "second"); err == nil {
		t.Fatal("expected context error from rate limiter")
	}
	if got := ad.sent(); len(got) != 1 {
		t.Fatalf("sent = %+v, want only first", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 1000, HistorySize: 5}, ad, logx.Nop())

	for i := 0; i < 12; i++ {
		if err := s.Send(context.Background(), 1, "tick"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := len(s.Snapshot()); got != 5 {
		t.Fatalf("history len = %d, want 5", got)
	}
}
