package app

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"tailwatch/internal/tracker"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
	"tailwatch/pkg/tghtml"
)

// dispatchCommands answers chat commands from the configured chat. The
// watcher has a handful of flat commands and a single authorized chat, so
// updates are handled inline; only /digest does provider I/O and it runs
// under its own deadline.
func (a *App) dispatchCommands(ctx context.Context, updates <-chan transport.Update) error {
	a.log.Info("command dispatcher started")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("command dispatcher stopped", logx.Any("err", ctx.Err()))
			return nil
		case up, ok := <-updates:
			if !ok {
				a.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			// A panicking handler must not take the dispatcher (and with it
			// the app supervisor) down.
			func() {
				defer func() {
					if r := recover(); r != nil {
						a.log.Error("panic in command handler", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				a.handleUpdate(ctx, up)
			}()
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	// Only the configured chat may drive the watcher.
	if msg.ChatID != a.target.ChatID {
		a.log.Debug("command from unauthorized chat ignored",
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
		)
		return
	}

	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	var reply string
	switch strings.ToLower(word) {
	case "status":
		reply = tracker.StatusMessage(a.track.Published(), time.Now())
	case "where":
		reply = tracker.WhereMessage(a.track.Published(), time.Now())
	case "digest":
		dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := a.dig.Run(dctx)
		cancel()
		if err != nil {
			reply = "Digest failed: " + tghtml.Esc(err.Error()).String()
		} else {
			reply = "Digest queued for delivery."
		}
	case "help":
		reply = helpText()
	default:
		a.log.Debug("unknown command ignored", logx.String("cmd", word))
		return
	}

	a.reply(ctx, msg, reply)
}

func (a *App) reply(ctx context.Context, msg *transport.Message, text string) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := a.adapter.SendText(sctx, to, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("command reply failed", logx.Err(err))
	}
}

func helpText() string {
	cmdLine := func(cmd, desc string) tghtml.H {
		return tghtml.Raw(tghtml.Code(cmd).String() + " " + tghtml.Esc(desc).String())
	}
	return tghtml.Lines(
		tghtml.B("Commands"),
		cmdLine("/status", "tracker state and provider health"),
		cmdLine("/where", "last known position of the aircraft"),
		cmdLine("/digest", "send the flight digest now"),
		cmdLine("/help", "this list"),
	).String()
}

// menuCommands feeds the Telegram /menu autocomplete.
func menuCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "status", Description: "tracker state and provider health"},
		{Command: "where", Description: "last known position"},
		{Command: "digest", Description: "send the flight digest now"},
		{Command: "help", Description: "list commands"},
	}
}
