package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/services/reminders"
	kit "remindbot/internal/transport"
	"remindbot/pkg/daytime"
	logx "remindbot/pkg/logx"
)

// ReminderPort is the slice of the reminder service the router needs.
type ReminderPort interface {
	Add(ctx context.Context, recipient int64, raw string, text string) (reminders.Reminder, error)
	Remove(ctx context.Context, recipient int64, id int64) (bool, error)
	List(ctx context.Context, recipient int64) ([]reminders.Reminder, error)
}

const helpText = "Hi! I am a daily reminder bot.\n\n" +
	"/add HH:MM text - add a daily reminder, e.g. /add 08:30 Buy milk\n" +
	"/list - list reminders for this chat\n" +
	"/remove ID - remove a reminder by id\n" +
	"/help - this message"

func commandMenu() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "add", Description: "Add a daily reminder (HH:MM text)"},
		{Command: "list", Description: "List reminders for this chat"},
		{Command: "remove", Description: "Remove a reminder by id"},
		{Command: "help", Description: "Show usage"},
	}
}

func (r *Router) dispatch(ctx context.Context, req *Request) error {
	switch req.Command {
	case "start", "help":
		r.reply(ctx, req, helpText)
		return nil
	case "add":
		return r.handleAdd(ctx, req)
	case "list":
		return r.handleList(ctx, req)
	case "remove":
		return r.handleRemove(ctx, req)
	default:
		r.reply(ctx, req, "Unknown command. See /help.")
		return nil
	}
}

func (r *Router) handleAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		r.reply(ctx, req, "Usage: /add HH:MM text. Example: /add 08:30 Buy milk")
		return nil
	}
	when := req.Args[0]
	text := strings.Join(req.Args[1:], " ")

	rem, err := r.svc.Add(ctx, req.Chat.ChatID, when, text)
	switch {
	case errors.Is(err, daytime.ErrInvalidFormat):
		r.reply(ctx, req, "Bad time. Use HH:MM in 24-hour format, e.g. 08:30.")
		return nil
	case errors.Is(err, reminders.ErrPartiallyScheduled):
		// Stored but not armed; it will activate on the next restart.
		r.reply(ctx, req, fmt.Sprintf("Reminder #%d saved, but scheduling failed. It will activate after a restart.", rem.ID))
		return nil
	case err != nil:
		r.log.Error("add failed", logx.Int64("chat_id", req.Chat.ChatID), logx.String("req_id", req.ReqID), logx.Err(err))
		r.replyInternalError(ctx, req)
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("Reminder #%d added: every day at %s: %s", rem.ID, rem.At, rem.Text))
	return nil
}

func (r *Router) handleList(ctx context.Context, req *Request) error {
	list, err := r.svc.List(ctx, req.Chat.ChatID)
	if err != nil {
		r.log.Error("list failed", logx.Int64("chat_id", req.Chat.ChatID), logx.String("req_id", req.ReqID), logx.Err(err))
		r.replyInternalError(ctx, req)
		return err
	}
	if len(list) == 0 {
		r.reply(ctx, req, "No reminders in this chat. Add one with /add HH:MM text.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Reminders:\n")
	for _, rem := range list {
		fmt.Fprintf(&b, "#%d  %s  %s\n", rem.ID, rem.At, rem.Text)
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) handleRemove(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "Usage: /remove ID")
		return nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		r.reply(ctx, req, "The id must be a number. See /list for ids.")
		return nil
	}
	ok, err := r.svc.Remove(ctx, req.Chat.ChatID, id)
	if err != nil {
		r.log.Error("remove failed", logx.Int64("chat_id", req.Chat.ChatID), logx.String("req_id", req.ReqID), logx.Err(err))
		r.replyInternalError(ctx, req)
		return err
	}
	if !ok {
		r.reply(ctx, req, fmt.Sprintf("No reminder with id %d.", id))
		return nil
	}
	r.reply(ctx, req, fmt.Sprintf("Reminder #%d removed.", id))
	return nil
}
