// Package router consumes transport updates and dispatches bot commands to
// the reminder service.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Request carries one parsed incoming command through the middleware chain.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // without the leading slash
	Args    []string
	ReqID   string
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	svc     ReminderPort

	handle  HandlerFunc
	botName string

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

// Options tunes dispatch behavior.
type Options struct {
	// BotName strips the "@name" suffix from commands in groups.
	BotName string
	// HandlerTimeout bounds one command, default 15s.
	HandlerTimeout time.Duration
}

func New(log logx.Logger, adapter kit.Adapter, svc ReminderPort, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.HandlerTimeout <= 0 {
		opt.HandlerTimeout = 15 * time.Second
	}
	r := &Router{
		log:     log,
		adapter: adapter,
		svc:     svc,
		botName: strings.TrimPrefix(opt.BotName, "@"),
	}
	r.handle = Chain(r.dispatch,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWTimeout(opt.HandlerTimeout),
	)
	return r
}

// Start consumes updates until ctx is cancelled or Stop is called.
func (r *Router) Start(ctx context.Context, updates <-chan kit.Update) {
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return
	}
	r.running = true
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "router"))))
	sup := r.sup
	r.runMu.Unlock()

	sup.Go0("updates.loop", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				r.handleUpdate(c, up)
			}
		}
	})

	r.publishMenu(ctx)
}

func (r *Router) Stop(ctx context.Context) error {
	r.runMu.Lock()
	sup := r.sup
	r.sup = nil
	wasRunning := r.running
	r.running = false
	r.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	return sup.Stop(ctx)
}

func (r *Router) handleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	cmd, args, ok := r.parseCommand(m.Text)
	if !ok {
		// Plain text in a group is normal chatter; in private it deserves
		// a pointer to /help.
		if !m.IsGroup && strings.TrimSpace(m.Text) != "" {
			req := &Request{Update: up, Chat: kit.ChatTarget{ChatID: m.ChatID}, FromID: m.FromID, ReqID: xid.New().String()}
			r.reply(ctx, req, "I only understand commands. Try /help.")
		}
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: m.ChatID},
		FromID:  m.FromID,
		Command: cmd,
		Args:    args,
		ReqID:   xid.New().String(),
	}
	_ = r.handle(ctx, req)
}

// parseCommand splits "/add@mybot 08:30 text" into ("add", ["08:30", "text"]).
func (r *Router) parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		target := cmd[at+1:]
		cmd = cmd[:at]
		if r.botName != "" && !strings.EqualFold(target, r.botName) {
			// Addressed to another bot in the same group.
			return "", nil, false
		}
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if _, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", req.Chat.ChatID), logx.String("req_id", req.ReqID), logx.Err(err))
	}
}

// replyInternalError sends a generic failure message carrying the request id
// so a log line can be matched to the user report.
func (r *Router) replyInternalError(ctx context.Context, req *Request) {
	r.reply(ctx, req, "Something went wrong. Reference: "+req.ReqID)
}

func (r *Router) publishMenu(ctx context.Context) {
	menu, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := menu.UpdateMenuCommands(cctx, commandMenu()); err != nil {
		r.log.Warn("menu update failed", logx.Err(err))
	}
}
