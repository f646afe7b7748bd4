package ratelimit

import (
	"testing"
	"time"
)

func TestFirstRequestAllowed(t *testing.T) {
	tbl := NewTable(4*time.Second, 2*time.Second)
	d := tbl.Check("u1", "c1", time.Now())
	if !d.Allowed {
		t.Fatal("first request should be allowed")
	}
}

// A second request 1000ms into a 4000ms user window is denied with roughly
// 3000ms remaining.
func TestUserCooldownRemaining(t *testing.T) {
	tbl := NewTable(4*time.Second, 0)
	base := time.Now()
	tbl.Stamp("u1", "c1", base)

	d := tbl.Check("u1", "c1", base.Add(time.Second))
	if d.Allowed {
		t.Fatal("request inside the window should be denied")
	}
	if d.Scope != ScopeUser {
		t.Errorf("Scope = %q, want user", d.Scope)
	}
	if d.Remaining != 3*time.Second {
		t.Errorf("Remaining = %v, want 3s", d.Remaining)
	}
}

func TestChannelCooldown(t *testing.T) {
	tbl := NewTable(0, 2*time.Second)
	base := time.Now()
	tbl.Stamp("u1", "c1", base)

	// Different user, same channel: the channel window denies.
	d := tbl.Check("u2", "c1", base.Add(500*time.Millisecond))
	if d.Allowed {
		t.Fatal("expected channel cooldown denial")
	}
	if d.Scope != ScopeChannel {
		t.Errorf("Scope = %q, want channel", d.Scope)
	}
	if d.Remaining != 1500*time.Millisecond {
		t.Errorf("Remaining = %v, want 1.5s", d.Remaining)
	}
}

func TestWindowExpires(t *testing.T) {
	tbl := NewTable(4*time.Second, 2*time.Second)
	base := time.Now()
	tbl.Stamp("u1", "c1", base)

	d := tbl.Check("u1", "c1", base.Add(4*time.Second))
	if !d.Allowed {
		t.Errorf("request at the window edge should be allowed, denied with %v remaining", d.Remaining)
	}
}

func TestScopesIndependent(t *testing.T) {
	tbl := NewTable(4*time.Second, 0)
	base := time.Now()
	tbl.Stamp("u1", "c1", base)

	// Different user, channel window disabled: allowed.
	if d := tbl.Check("u2", "c1", base.Add(100*time.Millisecond)); !d.Allowed {
		t.Error("another user should not share the user cooldown")
	}
}

// An unstamped check never consumes cooldown: checks alone leave the table
// unchanged.
func TestCheckDoesNotStamp(t *testing.T) {
	tbl := NewTable(4*time.Second, 0)
	base := time.Now()
	if d := tbl.Check("u1", "c1", base); !d.Allowed {
		t.Fatal("first check should pass")
	}
	if d := tbl.Check("u1", "c1", base.Add(time.Millisecond)); !d.Allowed {
		t.Error("a check without a stamp must not start the window")
	}
}
