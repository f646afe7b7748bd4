package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	name   string
	calls  int32
	fail   bool
	onCall func(ctx context.Context)
	block  chan struct{}

	concurrent    int32
	maxConcurrent int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.concurrent, 1)
	for {
		max := atomic.LoadInt32(&f.maxConcurrent)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxConcurrent, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.concurrent, -1)

	if f.onCall != nil {
		f.onCall(ctx)
	}
	if f.block != nil {
		<-f.block
	}
	if f.fail {
		return nil, errors.New(f.name + ": unavailable")
	}
	return &Response{Content: "from " + f.name, Completed: true}, nil
}

func TestChainUsesFirstHealthyProvider(t *testing.T) {
	first := &fakeProvider{name: "first"}
	second := &fakeProvider{name: "second"}
	chain := NewFallbackChain(NewCooldownTracker(), first, second)

	resp, err := chain.Chat(context.Background(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from first" {
		t.Errorf("Content = %q", resp.Content)
	}
	if atomic.LoadInt32(&second.calls) != 0 {
		t.Error("second provider must not be called when the first succeeds")
	}
}

func TestChainSkipsProviderOnCooldown(t *testing.T) {
	cooldown := NewCooldownTracker()
	cooldown.MarkFailure("first")

	first := &fakeProvider{name: "first"}
	second := &fakeProvider{name: "second"}
	chain := NewFallbackChain(cooldown, first, second)

	resp, err := chain.Chat(context.Background(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from second" {
		t.Errorf("Content = %q", resp.Content)
	}
	if atomic.LoadInt32(&first.calls) != 0 {
		t.Error("cooling provider must be skipped without a call")
	}
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cooldown := NewCooldownTracker()
	// The failing provider cancels the context so the retry loop exits
	// immediately instead of backing off in a unit test.
	first := &fakeProvider{name: "first", fail: true, onCall: func(context.Context) { cancel() }}
	second := &fakeProvider{name: "second"}
	chain := NewFallbackChain(cooldown, first, second)

	resp, err := chain.Chat(ctx, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from second" {
		t.Errorf("Content = %q", resp.Content)
	}
	if !cooldown.OnCooldown("first") {
		t.Error("the failed provider must be marked for cooldown")
	}
}

func TestChainAllProvidersOnCooldown(t *testing.T) {
	cooldown := NewCooldownTracker()
	cooldown.MarkFailure("only")
	chain := NewFallbackChain(cooldown, &fakeProvider{name: "only"})

	_, err := chain.Chat(context.Background(), nil, Options{})
	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Errorf("err = %v, want ErrNoProviderAvailable", err)
	}
}

func TestCooldownTracker(t *testing.T) {
	c := NewCooldownTracker()
	if c.OnCooldown("p") {
		t.Error("fresh provider must not be on cooldown")
	}
	c.MarkFailure("p")
	if !c.OnCooldown("p") {
		t.Error("provider must cool down after a failure")
	}
	if c.OnCooldown("q") {
		t.Error("cooldowns are per provider")
	}
}

func TestThrottledBoundsConcurrency(t *testing.T) {
	p := &fakeProvider{name: "only", block: make(chan struct{})}
	throttled := NewThrottled(NewFallbackChain(nil, p), 2)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttled.Chat(context.Background(), nil, Options{})
		}()
	}

	// Let the first two calls park inside the provider.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.concurrent) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond) // give a third call the chance to sneak in

	if got := atomic.LoadInt32(&p.maxConcurrent); got != 2 {
		t.Errorf("max concurrent calls = %d, want 2", got)
	}
	close(p.block)
	wg.Wait()
	if got := atomic.LoadInt32(&p.calls); got != 5 {
		t.Errorf("total calls = %d, want 5", got)
	}
}

func TestThrottledGivesUpOnCancelledContext(t *testing.T) {
	p := &fakeProvider{name: "only", block: make(chan struct{})}
	throttled := NewThrottled(NewFallbackChain(nil, p), 1)

	go throttled.Chat(context.Background(), nil, Options{}) // holds the slot
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.concurrent) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := throttled.Chat(ctx, nil, Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(p.block)
}
