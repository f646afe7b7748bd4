package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pingpal-io/pingpal/pkg/bus"
)

type stubChannel struct {
	name     string
	limit    int
	startErr error
	sendErr  error

	mu       sync.Mutex
	started  bool
	stopped  bool
	attempts int
	sent     []bus.OutboundMessage
}

func (s *stubChannel) Name() string        { return s.name }
func (s *stubChannel) TransportLimit() int { return s.limit }

func (s *stubChannel) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.startErr
}

func (s *stubChannel) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *stubChannel) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestManagerTransportLimits(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(b)
	m.Register(&stubChannel{name: "alpha", limit: 2000})
	m.Register(&stubChannel{name: "beta", limit: 4096})

	limits := m.TransportLimits()
	if limits["alpha"] != 2000 || limits["beta"] != 4096 {
		t.Errorf("limits = %v", limits)
	}
}

func TestStartAllAbortsOnFailure(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(b)
	m.Register(&stubChannel{name: "bad", startErr: errors.New("no token")})

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("a failing adapter must abort startup")
	}
}

func TestOutboundPumpRoutesByChannel(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alpha := &stubChannel{name: "alpha", limit: 100}
	beta := &stubChannel{name: "beta", limit: 100}
	m := NewManager(b)
	m.Register(alpha)
	m.Register(beta)
	if err := m.StartAll(ctx); err != nil {
		t.Fatal(err)
	}

	b.PublishOutbound(bus.OutboundMessage{Channel: "alpha", Content: "one"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "beta", Content: "two"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "alpha", Content: "three"})

	deadline := time.Now().Add(2 * time.Second)
	for (alpha.sentCount() < 2 || beta.sentCount() < 1) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if alpha.sentCount() != 2 || beta.sentCount() != 1 {
		t.Fatalf("alpha=%d beta=%d", alpha.sentCount(), beta.sentCount())
	}
	alpha.mu.Lock()
	if alpha.sent[0].Content != "one" || alpha.sent[1].Content != "three" {
		t.Error("per-channel order not preserved")
	}
	alpha.mu.Unlock()

	m.StopAll()
	if !alpha.stopped || !beta.stopped {
		t.Error("StopAll must stop every adapter")
	}
}

// A send failure is logged and the pump keeps going.
func TestOutboundPumpSurvivesSendFailure(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flaky := &stubChannel{name: "flaky", limit: 100, sendErr: errors.New("rate limited")}
	m := NewManager(b)
	m.Register(flaky)
	if err := m.StartAll(ctx); err != nil {
		t.Fatal(err)
	}

	b.PublishOutbound(bus.OutboundMessage{Channel: "flaky", Content: "drop me"})

	deadline := time.Now().Add(2 * time.Second)
	for flaky.attemptCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	flaky.mu.Lock()
	flaky.sendErr = nil
	flaky.mu.Unlock()
	b.PublishOutbound(bus.OutboundMessage{Channel: "flaky", Content: "deliver me"})

	deadline = time.Now().Add(2 * time.Second)
	for flaky.sentCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if flaky.sentCount() != 1 {
		t.Fatalf("sent = %d, want the second message only", flaky.sentCount())
	}
}
