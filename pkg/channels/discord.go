package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/pingpal-io/pingpal/pkg/attach"
	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/logger"
)

const (
	discordTransportLimit = 2000
	thinkingText          = "🤔 Thinking..."
)

// discordSession abstracts the discordgo.Session methods the adapter uses,
// so tests can inject a mock instead of a live gateway.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	UpdateWatchStatus(idle int, name string) error
}

// realDiscordSession wraps *discordgo.Session.
type realDiscordSession struct {
	s *discordgo.Session
}

func (r *realDiscordSession) Open() error  { return r.s.Open() }
func (r *realDiscordSession) Close() error { return r.s.Close() }
func (r *realDiscordSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realDiscordSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessage(channelID, messageID, options...)
}
func (r *realDiscordSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realDiscordSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realDiscordSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realDiscordSession) UpdateWatchStatus(idle int, name string) error {
	return r.s.UpdateWatchStatus(idle, name)
}

// allowedMentions suppresses implicit mass-mentions on every send; only
// explicit user pings in the reply survive.
var allowedMentions = &discordgo.MessageAllowedMentions{
	Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
}

// DiscordAdapter bridges the Discord gateway to the bus.
type DiscordAdapter struct {
	sess      discordSession
	bus       *bus.MessageBus
	botName   string
	botUserID string

	removeReady   func()
	removeMessage func()
}

// DiscordOpts holds parameters for NewDiscord.
type DiscordOpts struct {
	Token string
	// For testing: inject a mock session instead of the real gateway.
	Session discordSession
	// For testing: pre-set identity instead of waiting for the ready event.
	BotUserID string
	BotName   string
}

// NewDiscord creates the adapter. The gateway is not opened until Start.
func NewDiscord(opts DiscordOpts, b *bus.MessageBus) (*DiscordAdapter, error) {
	a := &DiscordAdapter{
		bus:       b,
		sess:      opts.Session,
		botUserID: opts.BotUserID,
		botName:   opts.BotName,
	}
	if a.sess == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentMessageContent
		a.sess = &realDiscordSession{s: dg}
	}
	return a, nil
}

func (a *DiscordAdapter) Name() string        { return "discord" }
func (a *DiscordAdapter) TransportLimit() int { return discordTransportLimit }

// Start registers handlers and opens the gateway connection.
func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.removeReady = a.sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.botUserID = r.User.ID
		a.botName = r.User.Username
		if err := a.sess.UpdateWatchStatus(0, "for pings! 📡"); err != nil {
			logger.WarnCF("discord", "Presence update failed", map[string]interface{}{"error": err.Error()})
		}
		logger.InfoCF("discord", "Gateway ready", map[string]interface{}{
			"bot_user": r.User.Username,
		})
	})
	a.removeMessage = a.sess.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Stop removes handlers and closes the gateway.
func (a *DiscordAdapter) Stop() error {
	if a.removeReady != nil {
		a.removeReady()
	}
	if a.removeMessage != nil {
		a.removeMessage()
	}
	return a.sess.Close()
}

// handleMessage is the trigger filter plus inbound translation.
func (a *DiscordAdapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	mentioned := a.isMentioned(m)

	// Cheapest possible short-circuit: no mention and no reply reference
	// means no response, with zero network or lock activity.
	if !mentioned && m.MessageReference == nil {
		return
	}

	replyToBot, refText := a.resolveReference(m)
	if !mentioned && !replyToBot {
		return
	}

	if mentioned {
		if err := a.sess.ChannelTyping(m.ChannelID); err != nil {
			logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{"error": err.Error()})
		}
	}

	placeholderID := a.postPlaceholder(m)

	var attachments []attach.Descriptor
	for _, att := range m.Attachments {
		attachments = append(attachments, attach.Descriptor{
			URL:         att.URL,
			ContentType: att.ContentType,
			Size:        int64(att.Size),
		})
	}

	a.bus.PublishInbound(bus.InboundMessage{
		Channel:        "discord",
		ChatID:         m.ChannelID,
		MessageID:      m.ID,
		SenderID:       m.Author.ID,
		SenderName:     m.Author.Username,
		Content:        a.rewriteMention(m.Content),
		Mentioned:      mentioned,
		ReplyToBot:     replyToBot,
		ReferencedText: refText,
		Attachments:    attachments,
		PlaceholderID:  placeholderID,
	})
}

// isMentioned checks the mention list and the raw mention token.
func (a *DiscordAdapter) isMentioned(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == a.botUserID {
			return true
		}
	}
	return strings.Contains(m.Content, "<@"+a.botUserID+">") ||
		strings.Contains(m.Content, "<@!"+a.botUserID+">")
}

// resolveReference fetches the replied-to message when one exists. A fetch
// failure is logged and treated as "not a reply to the bot" rather than
// aborting the whole message.
func (a *DiscordAdapter) resolveReference(m *discordgo.MessageCreate) (bool, string) {
	ref := m.MessageReference
	if ref == nil || ref.MessageID == "" {
		return false, ""
	}
	channelID := ref.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}
	referenced, err := a.sess.ChannelMessage(channelID, ref.MessageID)
	if err != nil {
		logger.WarnCF("discord", "Referenced message fetch failed", map[string]interface{}{
			"channel_id": channelID,
			"message_id": ref.MessageID,
			"error":      err.Error(),
		})
		return false, ""
	}
	if referenced.Author == nil || referenced.Author.ID != a.botUserID {
		return false, ""
	}
	return true, referenced.Content
}

// postPlaceholder posts the transient "thinking" reply. Failure to post it
// is not fatal; the final reply simply goes out as a fresh message.
func (a *DiscordAdapter) postPlaceholder(m *discordgo.MessageCreate) string {
	sent, err := a.sess.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:         thinkingText,
		AllowedMentions: allowedMentions,
		Reference: &discordgo.MessageReference{
			MessageID: m.ID,
			ChannelID: m.ChannelID,
		},
	})
	if err != nil {
		logger.WarnCF("discord", "Placeholder post failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return sent.ID
}

// rewriteMention replaces the raw mention token with a readable name so the
// model does not see snowflake ids.
func (a *DiscordAdapter) rewriteMention(content string) string {
	name := "@" + a.botName
	content = strings.ReplaceAll(content, "<@"+a.botUserID+">", name)
	return strings.ReplaceAll(content, "<@!"+a.botUserID+">", name)
}

// Send delivers one outbound message: an edit when EditMessageID is set,
// otherwise a fresh send (replying when ReplyToID is set).
func (a *DiscordAdapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.EditMessageID != "" {
		edit := discordgo.NewMessageEdit(msg.ChatID, msg.EditMessageID)
		edit.SetContent(msg.Content)
		edit.AllowedMentions = allowedMentions
		_, err := a.sess.ChannelMessageEditComplex(edit)
		return err
	}

	send := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: allowedMentions,
	}
	if msg.ReplyToID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyToID,
			ChannelID: msg.ChatID,
		}
	}
	_, err := a.sess.ChannelMessageSendComplex(msg.ChatID, send)
	return err
}
