package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/logger"
)

const telegramTransportLimit = 4096

// telegramAPI abstracts the telego.Bot methods the adapter uses, so tests
// can inject a mock instead of the live API. *telego.Bot satisfies it.
type telegramAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
}

// TelegramAdapter bridges Telegram long polling to the bus. Triggers are
// @username mentions and replies to the bot's own messages; image ingestion
// is a Discord-only concern for now since Telegram file access goes through
// its own file API.
type TelegramAdapter struct {
	bot         telegramAPI
	bus         *bus.MessageBus
	botID       int64
	botUsername string
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewTelegram creates the adapter. The bot is not polled until Start.
func NewTelegram(token string, b *bus.MessageBus) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramAdapter{bot: bot, bus: b, done: make(chan struct{})}, nil
}

func (a *TelegramAdapter) Name() string        { return "telegram" }
func (a *TelegramAdapter) TransportLimit() int { return telegramTransportLimit }

// Start resolves the bot identity and begins long polling.
func (a *TelegramAdapter) Start(ctx context.Context) error {
	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.botID = me.ID
	a.botUsername = me.Username

	pollCtx, cancel := context.WithCancel(ctx)
	a.ctx = pollCtx
	a.cancel = cancel
	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: long polling: %w", err)
	}

	go func() {
		defer close(a.done)
		for update := range updates {
			if update.Message != nil {
				a.handleMessage(update.Message)
			}
		}
	}()
	logger.InfoCF("telegram", "Long polling started", map[string]interface{}{
		"bot_username": a.botUsername,
	})
	return nil
}

// Stop cancels polling and waits for the update pump to drain.
func (a *TelegramAdapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	return nil
}

func (a *TelegramAdapter) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot || m.From.ID == a.botID {
		return
	}

	mention := "@" + a.botUsername
	mentioned := a.botUsername != "" && strings.Contains(m.Text, mention)
	replyToBot := m.ReplyToMessage != nil &&
		m.ReplyToMessage.From != nil &&
		m.ReplyToMessage.From.ID == a.botID
	if !mentioned && !replyToBot {
		return
	}

	var refText string
	if replyToBot {
		refText = m.ReplyToMessage.Text
	}

	placeholderID := a.postPlaceholder(m)

	a.bus.PublishInbound(bus.InboundMessage{
		Channel:        "telegram",
		ChatID:         strconv.FormatInt(m.Chat.ID, 10),
		MessageID:      strconv.Itoa(m.MessageID),
		SenderID:       strconv.FormatInt(m.From.ID, 10),
		SenderName:     m.From.FirstName,
		Content:        m.Text,
		Mentioned:      mentioned,
		ReplyToBot:     replyToBot,
		ReferencedText: refText,
		PlaceholderID:  placeholderID,
	})
}

// postPlaceholder posts the transient "thinking" reply. Failure to post it
// is not fatal; the final reply simply goes out as a fresh message.
func (a *TelegramAdapter) postPlaceholder(m *telego.Message) string {
	params := tu.Message(tu.ID(m.Chat.ID), thinkingText).
		WithReplyParameters(&telego.ReplyParameters{MessageID: m.MessageID})
	sent, err := a.bot.SendMessage(a.ctx, params)
	if err != nil {
		logger.WarnCF("telegram", "Placeholder post failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return strconv.Itoa(sent.MessageID)
}

// Send delivers one outbound message, editing in place when requested.
func (a *TelegramAdapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", msg.ChatID, err)
	}

	if msg.EditMessageID != "" {
		messageID, err := strconv.Atoi(msg.EditMessageID)
		if err != nil {
			return fmt.Errorf("telegram: bad message id %q: %w", msg.EditMessageID, err)
		}
		_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: messageID,
			Text:      msg.Content,
		})
		return err
	}

	params := tu.Message(tu.ID(chatID), msg.Content)
	if msg.ReplyToID != "" {
		if messageID, err := strconv.Atoi(msg.ReplyToID); err == nil {
			params = params.WithReplyParameters(&telego.ReplyParameters{MessageID: messageID})
		}
	}
	_, err = a.bot.SendMessage(ctx, params)
	return err
}
