package session

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/pingpal-io/pingpal/pkg/logger"
)

// Registry maps session keys to owned ChannelSession objects. The registry
// lock covers the map itself; each session carries its own lock because the
// sweeper and the ops API reach into sessions concurrently with turns.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*ChannelSession
	maxLength int
	maxTokens int
}

// NewRegistry creates an empty registry with the given per-session bounds.
func NewRegistry(maxLength, maxTokens int) *Registry {
	return &Registry{
		sessions:  make(map[string]*ChannelSession),
		maxLength: maxLength,
		maxTokens: maxTokens,
	}
}

// GetOrCreate returns the session for key, creating it on first trigger.
func (r *Registry) GetOrCreate(key string) *ChannelSession {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s = NewChannelSession(key, r.maxLength, r.maxTokens)
	r.sessions[key] = s
	return s
}

// Get returns the session for key if one exists.
func (r *Registry) Get(key string) (*ChannelSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Reset clears one session's history, keeping the system turn.
// Returns false when the key is unknown.
func (r *Registry) Reset(key string) bool {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.Reset()
	return true
}

// ResetAll deletes every session. The next trigger recreates its session.
func (r *Registry) ResetAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	r.sessions = make(map[string]*ChannelSession)
	return n
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns stats for every session, for the ops API.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// SweepIdle evicts sessions whose last activity is older than ttl.
func (r *Registry) SweepIdle(ttl time.Duration, now time.Time) int {
	if ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, s := range r.sessions {
		if s.IdleSince(now) > ttl {
			delete(r.sessions, key)
			evicted++
		}
	}
	return evicted
}

// RunSweeper evicts idle sessions whenever the cron expression fires.
// Blocks until ctx is cancelled; checks the schedule once a minute.
func (r *Registry) RunSweeper(ctx context.Context, cronExpr string, ttl time.Duration) {
	if cronExpr == "" || ttl <= 0 {
		return
	}
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		logger.WarnCF("session", "Invalid sweep cron expression, sweeper disabled",
			map[string]interface{}{"cron": cronExpr})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(cronExpr, now)
			if err != nil || !due {
				continue
			}
			if n := r.SweepIdle(ttl, now); n > 0 {
				logger.InfoCF("session", "Swept idle sessions",
					map[string]interface{}{"evicted": n, "ttl": ttl.String()})
			}
		}
	}
}
