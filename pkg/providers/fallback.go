package providers

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/pingpal-io/pingpal/pkg/logger"
)

// ErrNoProviderAvailable is returned when every provider in the chain is
// either cooling down or failed.
var ErrNoProviderAvailable = errors.New("providers: no provider available")

const (
	retryAttempts   = 3
	retryBaseDelay  = 2 * time.Second
	failureCooldown = 30 * time.Second
)

// CooldownTracker remembers recent provider failures so the fallback chain
// can skip a flapping vendor for a short window instead of hammering it.
type CooldownTracker struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{until: make(map[string]time.Time)}
}

// MarkFailure puts name on cooldown.
func (c *CooldownTracker) MarkFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[name] = time.Now().Add(failureCooldown)
}

// OnCooldown reports whether name is still cooling down.
func (c *CooldownTracker) OnCooldown(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.until[name])
}

// FallbackChain tries providers in registration order, skipping any on
// failure cooldown, retrying each with backoff before moving on.
type FallbackChain struct {
	providers []LLMProvider
	cooldown  *CooldownTracker
}

func NewFallbackChain(cooldown *CooldownTracker, providers ...LLMProvider) *FallbackChain {
	return &FallbackChain{providers: providers, cooldown: cooldown}
}

// Add appends a provider to the chain.
func (f *FallbackChain) Add(p LLMProvider) {
	f.providers = append(f.providers, p)
}

// Chat calls the first healthy provider. A provider that exhausts its
// retries is marked for cooldown and the next one is tried.
func (f *FallbackChain) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	var lastErr error
	for _, p := range f.providers {
		if f.cooldown != nil && f.cooldown.OnCooldown(p.Name()) {
			logger.DebugCF("providers", "Skipping provider on cooldown",
				map[string]interface{}{"provider": p.Name()})
			continue
		}
		resp, err := chatWithRetries(ctx, p, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if f.cooldown != nil {
			f.cooldown.MarkFailure(p.Name())
		}
		logger.WarnCF("providers", "Provider failed, trying next in chain",
			map[string]interface{}{"provider": p.Name(), "error": err.Error()})
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoProviderAvailable
}

// chatWithRetries retries transient failures with exponential backoff plus
// jitter. Context cancellation cuts the loop short.
func chatWithRetries(ctx context.Context, p LLMProvider, messages []Message, opts Options) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBaseDelay*(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(time.Second)))
			logger.WarnCF("providers", "Retrying completion call",
				map[string]interface{}{
					"provider": p.Name(),
					"attempt":  attempt + 1,
					"wait":     wait.String(),
				})
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := p.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
