// Package agent runs the message-processing pipeline: consume triggered
// inbound messages, enforce cooldowns and per-conversation backpressure,
// ingest attachments, maintain bounded history, call the completion chain,
// and emit the reply in transport-sized chunks.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pingpal-io/pingpal/pkg/attach"
	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/chunk"
	"github.com/pingpal-io/pingpal/pkg/logger"
	"github.com/pingpal-io/pingpal/pkg/providers"
	"github.com/pingpal-io/pingpal/pkg/ratelimit"
	"github.com/pingpal-io/pingpal/pkg/scheduler"
	"github.com/pingpal-io/pingpal/pkg/session"
)

// User-visible notices, rendered as plain replies by the adapters.
const (
	noticeBusy    = "🛑 I'm still working on earlier messages here — try again in a moment."
	noticeFailed  = "⚠️ I couldn't generate a response."
	noticeErrored = "⚠️ An unexpected error occurred."
)

const defaultTransportLimit = 2000

// Completer is the completion dependency; satisfied by providers.Throttled
// and by test fakes.
type Completer interface {
	Chat(ctx context.Context, messages []providers.Message, opts providers.Options) (*providers.Response, error)
}

// Loop wires the pipeline together. One Loop owns all in-process state.
type Loop struct {
	bus       *bus.MessageBus
	registry  *session.Registry
	sched     *scheduler.Scheduler
	limits    *ratelimit.Table
	ingestor  *attach.Ingestor
	completer Completer

	opts         providers.Options
	systemPrompt string

	transportLimits map[string]int // channel name → max chunk size
	running         atomic.Bool
}

// Config carries the Loop's collaborators and knobs.
type Config struct {
	Bus          *bus.MessageBus
	Registry     *session.Registry
	Scheduler    *scheduler.Scheduler
	Limits       *ratelimit.Table
	Ingestor     *attach.Ingestor
	Completer    Completer
	Options      providers.Options
	SystemPrompt string
}

// NewLoop creates the pipeline loop.
func NewLoop(cfg Config) *Loop {
	return &Loop{
		bus:             cfg.Bus,
		registry:        cfg.Registry,
		sched:           cfg.Scheduler,
		limits:          cfg.Limits,
		ingestor:        cfg.Ingestor,
		completer:       cfg.Completer,
		opts:            cfg.Options,
		systemPrompt:    cfg.SystemPrompt,
		transportLimits: make(map[string]int),
	}
}

// SetTransportLimit records a channel adapter's maximum message size.
func (l *Loop) SetTransportLimit(channel string, limit int) {
	l.transportLimits[channel] = limit
}

func (l *Loop) transportLimit(channel string) int {
	if limit, ok := l.transportLimits[channel]; ok && limit > 0 {
		return limit
	}
	return defaultTransportLimit
}

// Run consumes inbound messages until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	logger.InfoC("agent", "Pipeline loop started")
	for l.running.Load() {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		l.dispatch(ctx, msg)
	}
}

// Stop makes Run return after the current message.
func (l *Loop) Stop() {
	l.running.Store(false)
}

// dispatch applies the cheap rejects (cooldown, backpressure) and hands the
// message to the per-conversation queue.
func (l *Loop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	if d := l.limits.Check(msg.SenderID, msg.ChatID, time.Now()); !d.Allowed {
		secs := d.Remaining.Seconds()
		l.notify(msg, fmt.Sprintf("⏳ Please wait %.1fs before asking again.", secs))
		l.bus.PublishSystem(bus.SystemEvent{Type: "turn.cooldown", Source: "agent", Data: map[string]interface{}{
			"scope":        string(d.Scope),
			"remaining_ms": d.Remaining.Milliseconds(),
			"sender_id":    msg.SenderID,
		}})
		return
	}

	key := msg.SessionKey()
	err := l.sched.Do(key, func() {
		l.processTurn(ctx, msg)
	})
	if err != nil {
		// Bounded queue full: deliberate backpressure, not an error.
		l.notify(msg, noticeBusy)
		l.bus.PublishSystem(bus.SystemEvent{Type: "turn.backpressure", Source: "agent", Data: map[string]interface{}{
			"session_key": key,
			"pending":     l.sched.Pending(key),
		}})
	}
}

// processTurn runs serialized within the conversation's queue. Nothing in
// here may escape uncaught into the scheduler: that is the one hard rule
// protecting the whole pipeline from a wedged conversation.
func (l *Loop) processTurn(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("agent", "Turn panicked", map[string]interface{}{
				"session_key": msg.SessionKey(),
				"panic":       fmt.Sprintf("%v", r),
			})
			l.notify(msg, noticeErrored)
		}
	}()

	sess := l.registry.GetOrCreate(msg.SessionKey())
	sess.EnsureSystemTurn(l.systemPrompt)

	var images []attach.Image
	if len(msg.Attachments) > 0 {
		images = l.ingestor.Ingest(ctx, msg.Attachments)
	}

	// When the user replies to one of the bot's own messages, fold that
	// message back in as an assistant turn so the model sees what it said.
	if msg.ReplyToBot && msg.ReferencedText != "" {
		sess.Append(session.Turn{
			Role:    session.RoleAssistant,
			Content: session.TextContent(msg.ReferencedText),
		})
	}

	sess.Append(userTurn(msg.Content, images))

	resp, err := l.completer.Chat(ctx, providers.FromTurns(sess.Turns()), l.opts)
	if err != nil || resp == nil || !resp.Completed || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			logger.ErrorCF("agent", "Completion failed", map[string]interface{}{
				"session_key": msg.SessionKey(),
				"error":       err.Error(),
			})
		} else {
			logger.WarnCF("agent", "Completion empty or truncated", map[string]interface{}{
				"session_key": msg.SessionKey(),
			})
		}
		// The user's turn stays in history so the exchange is not silently
		// lost; no assistant turn, no cooldown stamp.
		l.notify(msg, noticeFailed)
		l.bus.PublishSystem(bus.SystemEvent{Type: "turn.failed", Source: "agent", Data: map[string]interface{}{
			"session_key": msg.SessionKey(),
		}})
		return
	}

	l.emit(msg, resp.Content)

	sess.Append(session.Turn{
		Role:    session.RoleAssistant,
		Content: session.TextContent(resp.Content),
	})
	l.limits.Stamp(msg.SenderID, msg.ChatID, time.Now())
	l.bus.PublishSystem(bus.SystemEvent{Type: "turn.completed", Source: "agent", Data: map[string]interface{}{
		"session_key": msg.SessionKey(),
		"turns":       sess.Snapshot().Turns,
	}})
}

// emit splits the reply and publishes the chunks in order. The first chunk
// replaces the "thinking" placeholder when one exists; the rest go out as
// fresh messages.
func (l *Loop) emit(msg bus.InboundMessage, reply string) {
	chunks := chunk.Split(reply, l.transportLimit(msg.Channel))
	for i, c := range chunks {
		out := bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: c,
		}
		if i == 0 {
			if msg.PlaceholderID != "" {
				out.EditMessageID = msg.PlaceholderID
			} else {
				out.ReplyToID = msg.MessageID
			}
		}
		l.bus.PublishOutbound(out)
	}
}

// notify sends a single user-visible notice, reusing the placeholder when
// the adapter posted one.
func (l *Loop) notify(msg bus.InboundMessage, text string) {
	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}
	if msg.PlaceholderID != "" {
		out.EditMessageID = msg.PlaceholderID
	} else {
		out.ReplyToID = msg.MessageID
	}
	l.bus.PublishOutbound(out)
}

func userTurn(text string, images []attach.Image) session.Turn {
	if len(images) == 0 {
		return session.Turn{Role: session.RoleUser, Content: session.TextContent(text)}
	}
	parts := []session.Part{{Text: text}}
	for _, img := range images {
		parts = append(parts, session.Part{Image: img.Data, MimeType: img.MimeType})
	}
	return session.Turn{Role: session.RoleUser, Content: session.PartsContent(parts)}
}
