// Package session holds the conversation model: turns with text or mixed
// text+image content, per-channel sessions with bounded history, and the
// process-wide session registry.
package session

import (
	"sync"
	"time"
)

// Role tags a turn's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of a mixed-content turn.
type Part struct {
	Text     string // set for text parts
	Image    []byte // set for image parts (raw bytes, inline)
	MimeType string // image mime type, e.g. "image/png"
}

// IsImage reports whether the part carries image data.
func (p Part) IsImage() bool { return len(p.Image) > 0 }

// Content is a tagged variant: either plain text or an ordered part list.
type Content struct {
	Text  string
	Parts []Part
}

// TextContent builds a plain-text content value.
func TextContent(s string) Content { return Content{Text: s} }

// PartsContent builds a mixed-content value.
func PartsContent(parts []Part) Content { return Content{Parts: parts} }

// PlainText joins all text in the content, ignoring images.
func (c Content) PlainText() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if !p.IsImage() {
			out += p.Text
		}
	}
	return out
}

// Turn is one conversational entry.
type Turn struct {
	Role    Role
	Content Content
}

// EstimatedTokens estimates the turn's size as ceil(text chars / 4).
// A cheap heuristic, not a real tokenizer; images count as zero.
func (t Turn) EstimatedTokens() int {
	n := len(t.Content.PlainText())
	return (n + 3) / 4
}

// ChannelSession is the per-conversation state. Turn processing is serialized
// per conversation, but the sweeper and the ops API touch sessions from their
// own goroutines, so the mutex covers history and the activity stamp.
type ChannelSession struct {
	Key string

	mu           sync.Mutex
	history      []Turn
	lastActiveAt time.Time

	maxLength int // max non-system turns kept
	maxTokens int // 0 disables the token budget
}

// NewChannelSession creates an empty session with the given trim bounds.
func NewChannelSession(key string, maxLength, maxTokens int) *ChannelSession {
	return &ChannelSession{
		Key:          key,
		maxLength:    maxLength,
		maxTokens:    maxTokens,
		lastActiveAt: time.Now(),
	}
}

// EnsureSystemTurn lazily seeds the leading system turn. Trimming never
// removes it once present.
func (s *ChannelSession) EnsureSystemTurn(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 && s.history[0].Role == RoleSystem {
		return
	}
	turn := Turn{Role: RoleSystem, Content: TextContent(prompt)}
	s.history = append([]Turn{turn}, s.history...)
}

// Append adds a turn and re-trims. Trim always runs after an append.
func (s *ChannelSession) Append(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	s.lastActiveAt = time.Now()
	s.trimLocked()
}

// trimLocked enforces the count bound, then the token budget. Idempotent.
// Caller holds s.mu.
func (s *ChannelSession) trimLocked() {
	// Pass 1: count bound. Oldest non-system turns go first; index 0 stays.
	for len(s.history) > s.maxLength+1 {
		s.history = append(s.history[:1], s.history[2:]...)
	}

	// Pass 2: token budget, guarding against a few very long turns that fit
	// the count bound but would blow the provider's context window.
	if s.maxTokens <= 0 {
		return
	}
	total := 0
	for _, t := range s.history {
		total += t.EstimatedTokens()
	}
	for total > s.maxTokens && len(s.history) > 1 {
		total -= s.history[1].EstimatedTokens()
		s.history = append(s.history[:1], s.history[2:]...)
	}
}

// Turns returns a copy of the history for reads outside the lock.
func (s *ChannelSession) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// TotalEstimatedTokens sums the estimate across all turns.
func (s *ChannelSession) TotalEstimatedTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTokensLocked()
}

func (s *ChannelSession) totalTokensLocked() int {
	total := 0
	for _, t := range s.history {
		total += t.EstimatedTokens()
	}
	return total
}

// Reset drops everything but the system turn.
func (s *ChannelSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 && s.history[0].Role == RoleSystem {
		s.history = s.history[:1]
		return
	}
	s.history = nil
}

// IdleSince reports how long the session has been inactive as of now.
func (s *ChannelSession) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActiveAt)
}

// Snapshot is a read-only view for the ops API.
type Snapshot struct {
	Key             string    `json:"key"`
	Turns           int       `json:"turns"`
	EstimatedTokens int       `json:"estimated_tokens"`
	LastActiveAt    time.Time `json:"last_active_at"`
}

// Snapshot captures the session's current stats.
func (s *ChannelSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Key:             s.Key,
		Turns:           len(s.history),
		EstimatedTokens: s.totalTokensLocked(),
		LastActiveAt:    s.lastActiveAt,
	}
}
