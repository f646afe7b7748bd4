// Package providers wraps the hosted completion services behind one
// interface. The pipeline only depends on the request/response contract
// here; which vendor answers is a configuration concern, with a fallback
// chain and per-provider failure cooldowns deciding at call time.
package providers

import (
	"context"

	"github.com/pingpal-io/pingpal/pkg/session"
)

// ImageData is an inline image payload for a multimodal turn.
type ImageData struct {
	Data     []byte
	MimeType string
}

// Message is one wire-neutral conversation turn.
type Message struct {
	Role   session.Role
	Text   string
	Images []ImageData
}

// Options are scalar knobs passed through from configuration untouched.
type Options struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string
	Verbosity       string
}

// Response is a completion result. Only Completed with non-empty Content is
// treated as success by the pipeline.
type Response struct {
	Content   string
	Completed bool // the service reported a normal stop, not a truncation
}

// LLMProvider is a hosted completion service.
type LLMProvider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// FromTurns converts session history into wire-neutral messages.
func FromTurns(turns []session.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		m := Message{Role: t.Role, Text: t.Content.PlainText()}
		for _, p := range t.Content.Parts {
			if p.IsImage() {
				m.Images = append(m.Images, ImageData{Data: p.Image, MimeType: p.MimeType})
			}
		}
		out = append(out, m)
	}
	return out
}
