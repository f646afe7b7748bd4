package providers

import "context"

// Throttled bounds how many completion calls run at once across all
// conversations, so a burst of channels cannot stampede the vendor API.
type Throttled struct {
	inner interface {
		Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	}
	slots chan struct{}
}

// NewThrottled wraps inner with a concurrency bound of n.
func NewThrottled(inner *FallbackChain, n int) *Throttled {
	if n < 1 {
		n = 1
	}
	return &Throttled{inner: inner, slots: make(chan struct{}, n)}
}

// Chat acquires a slot (or gives up on context cancellation) and delegates.
func (t *Throttled) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-t.slots }()
	return t.inner.Chat(ctx, messages, opts)
}
