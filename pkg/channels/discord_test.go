package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pingpal-io/pingpal/pkg/bus"
)

const (
	testBotID   = "bot-1"
	testBotName = "pingpal"
)

type mockSession struct {
	messages map[string]*discordgo.Message // messageID → message
	fetchErr error

	sent   []*discordgo.MessageSend
	edits  []*discordgo.MessageEdit
	typing int
}

func (m *mockSession) Open() error                         { return nil }
func (m *mockSession) Close() error                        { return nil }
func (m *mockSession) AddHandler(h interface{}) func()     { return func() {} }
func (m *mockSession) UpdateWatchStatus(int, string) error { return nil }

func (m *mockSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if msg, ok := m.messages[messageID]; ok {
		return msg, nil
	}
	return nil, errors.New("unknown message")
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: "sent-1", ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageEditComplex(e *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.edits = append(m.edits, e)
	return &discordgo.Message{ID: e.ID}, nil
}

func (m *mockSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	m.typing++
	return nil
}

func newTestDiscord(t *testing.T, sess *mockSession) (*DiscordAdapter, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	a, err := NewDiscord(DiscordOpts{Session: sess, BotUserID: testBotID, BotName: testBotName}, b)
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func incoming(content string, mentions ...*discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		Content:   content,
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Mentions:  mentions,
	}}
}

func receiveInbound(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	return msg
}

func assertNoInbound(t *testing.T, b *bus.MessageBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, ok := b.ConsumeInbound(ctx); ok {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
}

func TestMentionTriggers(t *testing.T) {
	sess := &mockSession{}
	a, b := newTestDiscord(t, sess)

	a.handleMessage(incoming("hey <@bot-1> what's up", &discordgo.User{ID: testBotID}))

	msg := receiveInbound(t, b)
	if !msg.Mentioned {
		t.Error("Mentioned should be true")
	}
	if msg.Content != "hey @pingpal what's up" {
		t.Errorf("mention not rewritten: %q", msg.Content)
	}
	if msg.PlaceholderID != "sent-1" {
		t.Errorf("PlaceholderID = %q", msg.PlaceholderID)
	}
	if sess.typing != 1 {
		t.Errorf("typing calls = %d", sess.typing)
	}
	if len(sess.sent) != 1 || sess.sent[0].Content != thinkingText {
		t.Error("placeholder was not posted")
	}
}

func TestRawMentionTokenTriggers(t *testing.T) {
	// Nickname mention form, absent from the Mentions list.
	sess := &mockSession{}
	a, b := newTestDiscord(t, sess)

	a.handleMessage(incoming("<@!bot-1> ping"))

	msg := receiveInbound(t, b)
	if !msg.Mentioned {
		t.Error("raw <@!id> token must count as a mention")
	}
}

func TestUnaddressedMessageIgnored(t *testing.T) {
	sess := &mockSession{}
	a, b := newTestDiscord(t, sess)

	a.handleMessage(incoming("just chatting"))

	assertNoInbound(t, b)
	if len(sess.sent) != 0 || sess.typing != 0 {
		t.Error("ignored message must cause no API calls")
	}
}

func TestOwnAndBotMessagesIgnored(t *testing.T) {
	sess := &mockSession{}
	a, b := newTestDiscord(t, sess)

	own := incoming("<@bot-1> echo")
	own.Author = &discordgo.User{ID: testBotID}
	a.handleMessage(own)

	other := incoming("<@bot-1> hi")
	other.Author = &discordgo.User{ID: "other-bot", Bot: true}
	a.handleMessage(other)

	assertNoInbound(t, b)
}

func TestReplyToBotTriggers(t *testing.T) {
	sess := &mockSession{messages: map[string]*discordgo.Message{
		"ref-1": {ID: "ref-1", Content: "the bot said this", Author: &discordgo.User{ID: testBotID}},
	}}
	a, b := newTestDiscord(t, sess)

	m := incoming("what do you mean?")
	m.MessageReference = &discordgo.MessageReference{MessageID: "ref-1", ChannelID: "chan-1"}
	a.handleMessage(m)

	msg := receiveInbound(t, b)
	if !msg.ReplyToBot {
		t.Error("ReplyToBot should be true")
	}
	if msg.ReferencedText != "the bot said this" {
		t.Errorf("ReferencedText = %q", msg.ReferencedText)
	}
	if msg.Mentioned {
		t.Error("a plain reply is not a mention")
	}
}

func TestReplyToSomeoneElseIgnored(t *testing.T) {
	sess := &mockSession{messages: map[string]*discordgo.Message{
		"ref-2": {ID: "ref-2", Content: "human chatter", Author: &discordgo.User{ID: "user-9"}},
	}}
	a, b := newTestDiscord(t, sess)

	m := incoming("agreed!")
	m.MessageReference = &discordgo.MessageReference{MessageID: "ref-2", ChannelID: "chan-1"}
	a.handleMessage(m)

	assertNoInbound(t, b)
}

// A failed reference fetch downgrades to "not a reply to the bot" instead of
// dropping a message that also mentions the bot.
func TestReferenceFetchFailure(t *testing.T) {
	sess := &mockSession{fetchErr: errors.New("api unavailable")}
	a, b := newTestDiscord(t, sess)

	m := incoming("<@bot-1> still here?")
	m.MessageReference = &discordgo.MessageReference{MessageID: "gone", ChannelID: "chan-1"}
	a.handleMessage(m)

	msg := receiveInbound(t, b)
	if msg.ReplyToBot {
		t.Error("fetch failure must not claim the reply targeted the bot")
	}
	if !msg.Mentioned {
		t.Error("the mention still triggers despite the failed fetch")
	}

	// Without the mention, the same failure means the message is dropped.
	m2 := incoming("hm")
	m2.MessageReference = &discordgo.MessageReference{MessageID: "gone", ChannelID: "chan-1"}
	a.handleMessage(m2)
	assertNoInbound(t, b)
}

func TestAttachmentsForwarded(t *testing.T) {
	sess := &mockSession{}
	a, b := newTestDiscord(t, sess)

	m := incoming("<@bot-1> look at this")
	m.Attachments = []*discordgo.MessageAttachment{
		{URL: "https://cdn.example/cat.png", ContentType: "image/png", Size: 2048},
	}
	a.handleMessage(m)

	msg := receiveInbound(t, b)
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(msg.Attachments))
	}
	d := msg.Attachments[0]
	if d.URL != "https://cdn.example/cat.png" || d.ContentType != "image/png" || d.Size != 2048 {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestSendEditAndReply(t *testing.T) {
	sess := &mockSession{}
	a, _ := newTestDiscord(t, sess)
	ctx := context.Background()

	if err := a.Send(ctx, bus.OutboundMessage{ChatID: "chan-1", Content: "edited", EditMessageID: "ph-1"}); err != nil {
		t.Fatal(err)
	}
	if len(sess.edits) != 1 || sess.edits[0].ID != "ph-1" {
		t.Fatalf("edit not issued: %+v", sess.edits)
	}
	if sess.edits[0].Content == nil || *sess.edits[0].Content != "edited" {
		t.Error("edit content not set")
	}

	if err := a.Send(ctx, bus.OutboundMessage{ChatID: "chan-1", Content: "fresh", ReplyToID: "msg-1"}); err != nil {
		t.Fatal(err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("send not issued")
	}
	send := sess.sent[0]
	if send.Reference == nil || send.Reference.MessageID != "msg-1" {
		t.Error("reply reference missing")
	}
	if send.AllowedMentions == nil {
		t.Error("mass-mention suppression must be set on every send")
	}
}
