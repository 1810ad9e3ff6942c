package discovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// conn is the active-slot entry for one port: the worker's termination
// signal. Identity matters, since a finishing worker may only release its own slot.
type conn struct {
	cancel context.CancelFunc
}

// Quarantined describes a blacklisted port.
type Quarantined struct {
	Port      string        `json:"port"`
	Since     time.Time     `json:"since"`
	Remaining time.Duration `json:"remaining"`
}

// portTable tracks, per port, exactly one of: absent, active, blacklisted.
// Both maps share one lock so moving a port from active to blacklisted is a
// single step that the scanner can never observe half-done.
type portTable struct {
	mu        sync.Mutex
	active    map[string]*conn
	blacklist map[string]time.Time
	duration  time.Duration
}

func newPortTable(blacklistDuration time.Duration) *portTable {
	return &portTable{
		active:    make(map[string]*conn),
		blacklist: make(map[string]time.Time),
		duration:  blacklistDuration,
	}
}

// prune drops blacklist entries whose age is at least the blacklist duration
// and returns their names.
func (t *portTable) prune(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for name, since := range t.blacklist {
		if now.Sub(since) >= t.duration {
			delete(t.blacklist, name)
			expired = append(expired, name)
		}
	}
	return expired
}

// reserve claims the active slot for name unless it is already active or
// blacklisted.
func (t *portTable) reserve(name string, c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[name]; ok {
		return false
	}
	if _, ok := t.blacklist[name]; ok {
		return false
	}
	t.active[name] = c
	return true
}

// release frees the slot held by c. With blacklist set, the port is
// quarantined from now on.
func (t *portTable) release(name string, c *conn, blacklist bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.active[name]; ok && cur != c {
		return
	}
	delete(t.active, name)
	if blacklist {
		t.blacklist[name] = now
	}
}

// signal sends the termination signal to the worker on name.
func (t *portTable) signal(name string) bool {
	t.mu.Lock()
	c, ok := t.active[name]
	t.mu.Unlock()

	if ok {
		c.cancel()
	}
	return ok
}

func (t *portTable) signalAll() {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.active))
	for _, c := range t.active {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.cancel()
	}
}

func (t *portTable) activeNames() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.active))
	for name := range t.active {
		names = append(names, name)
	}
	t.mu.Unlock()

	sort.Strings(names)
	return names
}

func (t *portTable) quarantined(now time.Time) []Quarantined {
	t.mu.Lock()
	out := make([]Quarantined, 0, len(t.blacklist))
	for name, since := range t.blacklist {
		remaining := t.duration - now.Sub(since)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Quarantined{Port: name, Since: since, Remaining: remaining})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (t *portTable) counts() (active, blacklisted int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active), len(t.blacklist)
}
