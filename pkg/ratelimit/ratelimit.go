// Package ratelimit enforces the per-user and per-channel cooldown windows.
// Checks happen before any completion work; timestamps are stamped only
// after a turn completes successfully, so failed turns do not consume
// cooldown.
package ratelimit

import (
	"sync"
	"time"
)

// Scope names which window denied a request.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
)

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed   bool
	Scope     Scope         // set when denied
	Remaining time.Duration // time left in the denying window
}

// Table holds the last successful request time per user and per channel.
// Written from many conversation tasks concurrently; one lock covers both
// maps since writes are rare (one per completed turn).
type Table struct {
	userWindow    time.Duration
	channelWindow time.Duration

	mu          sync.Mutex
	lastUser    map[string]time.Time
	lastChannel map[string]time.Time
}

// NewTable creates a cooldown table. A zero window disables that scope.
func NewTable(userWindow, channelWindow time.Duration) *Table {
	return &Table{
		userWindow:    userWindow,
		channelWindow: channelWindow,
		lastUser:      make(map[string]time.Time),
		lastChannel:   make(map[string]time.Time),
	}
}

// Check evaluates both windows at time now. The user window is checked
// first; the first denial wins.
func (t *Table) Check(userID, channelID string, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.userWindow > 0 {
		if last, ok := t.lastUser[userID]; ok {
			if elapsed := now.Sub(last); elapsed < t.userWindow {
				return Decision{Scope: ScopeUser, Remaining: t.userWindow - elapsed}
			}
		}
	}
	if t.channelWindow > 0 {
		if last, ok := t.lastChannel[channelID]; ok {
			if elapsed := now.Sub(last); elapsed < t.channelWindow {
				return Decision{Scope: ScopeChannel, Remaining: t.channelWindow - elapsed}
			}
		}
	}
	return Decision{Allowed: true}
}

// Stamp records a completed turn. Call only on the success path.
func (t *Table) Stamp(userID, channelID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUser[userID] = now
	t.lastChannel[channelID] = now
}
