// Package ratelimit implements component F: per-MAC rate limiting with two
// cooldown classes (unknown, misbehaving), plus the purge housekeeping the
// tick bus (component I) drives once a second.
package ratelimit

import (
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// State is the per-MAC rate-limiter state machine (§3 "Rate-Limiter
// Record").
type State int

const (
	StateOK State = iota
	StateUnknownCooldown
	StateMisbehavingCooldown
)

// record is the per-MAC bookkeeping §3 describes.
type record struct {
	state         State
	hits          uint32
	windowStart   time.Time
	cooldownUntil time.Time
}

// Config holds the three tunables §4.F names, each with its spec default.
type Config struct {
	// Window is the polling interval over which hits are counted.
	Window time.Duration // default 30s
	// SuspendThreshold is the hit count above which a MAC is classed
	// misbehaving, when EnableSuspend is set.
	SuspendThreshold uint32 // default 10
	EnableSuspend    bool   // default true

	UnknownClientTimeout     time.Duration // default 60s
	MisbehavingClientTimeout time.Duration // default 150s
}

// DefaultConfig returns the spec's documented defaults (§4.F / §6).
func DefaultConfig() Config {
	return Config{
		Window:                   30 * time.Second,
		SuspendThreshold:         10,
		EnableSuspend:            true,
		UnknownClientTimeout:     60 * time.Second,
		MisbehavingClientTimeout: 150 * time.Second,
	}
}

// Limiter tracks one record per MAC behind a single lock (§5 "single map,
// single lock; updates are O(1)").
type Limiter struct {
	cfg   Config
	clock timeutil.Clock

	mu      sync.Mutex
	records map[addr.MAC]*record

	// purgeOrder is the ordered eviction queue: MACs are appended as they
	// enter a cooldown, in the order their cooldown_until deadlines were
	// set, so Purge walks this queue (in full, without stopping early)
	// instead of scanning the whole map every tick.
	purgeOrder container.KeyValues[addr.MAC, time.Time]
}

// New builds a Limiter. clock is injected (rather than calling time.Now
// directly) so cooldown and window arithmetic is deterministically
// testable, the same pattern internal/dhcpsvc/lease.go's updateExpiry
// uses for its own timeutil.Clock parameter.
func New(cfg Config, clock timeutil.Clock) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		records: make(map[addr.MAC]*record),
	}
}

// Admit updates mac's record for one received packet and reports whether
// the packet should proceed to directory resolution (§4.F steps 1-5).
func (l *Limiter) Admit(mac addr.MAC) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[mac]
	if ok && now.Sub(rec.cooldownUntil) >= l.cfg.Window && !rec.cooldownUntil.IsZero() {
		// Step 1: drop the record once cooldown_until + window has passed.
		delete(l.records, mac)
		ok = false
	}
	if !ok {
		rec = &record{windowStart: now}
		l.records[mac] = rec
	}

	if now.Sub(rec.windowStart) >= l.cfg.Window {
		rec.hits = 0
		rec.windowStart = now
	}
	rec.hits++

	if rec.hits > l.cfg.SuspendThreshold && l.cfg.EnableSuspend &&
		(rec.state != StateMisbehavingCooldown || !now.Before(rec.cooldownUntil)) {
		rec.state = StateMisbehavingCooldown
		rec.cooldownUntil = now.Add(l.cfg.MisbehavingClientTimeout)
		l.purgeOrder = append(l.purgeOrder, container.KeyValue[addr.MAC, time.Time]{Key: mac, Value: rec.cooldownUntil})
	}

	return rec.state == StateOK || !now.Before(rec.cooldownUntil)
}

// MarkUnknown places mac into unknown_cooldown for UnknownClientTimeout
// (§4.F: "An 'unknown MAC' ... is admitted once, then placed in
// unknown_cooldown"). The caller has already admitted the triggering
// packet through Admit; this call only affects subsequent packets.
func (l *Limiter) MarkUnknown(mac addr.MAC) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[mac]
	if !ok {
		rec = &record{windowStart: now}
		l.records[mac] = rec
	}
	if rec.state == StateMisbehavingCooldown {
		// Misbehaviour outranks an unknown-MAC classification; don't
		// shorten an existing, longer cooldown.
		return
	}
	rec.state = StateUnknownCooldown
	rec.cooldownUntil = now.Add(l.cfg.UnknownClientTimeout)
	l.purgeOrder = append(l.purgeOrder, container.KeyValue[addr.MAC, time.Time]{Key: mac, Value: rec.cooldownUntil})
}

// State reports the current classification of mac, for statistics and
// tests; a MAC never seen is StateOK.
func (l *Limiter) State(mac addr.MAC) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[mac]; ok {
		return rec.state
	}
	return StateOK
}

// CooldownCount reports how many MACs currently sit in either cooldown
// class, for the statistics bus's gauge (§4.I).
func (l *Limiter) CooldownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, rec := range l.records {
		if rec.state != StateOK {
			n++
		}
	}
	return n
}

// Purge drops records whose cooldown has fully expired (cooldown_until +
// window has passed), per §3's rate-limiter-record lifecycle. It is driven
// by the tick bus (component I) roughly once a second.
func (l *Limiter) Purge() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.purgeOrder[:0]
	for _, kv := range l.purgeOrder {
		rec, ok := l.records[kv.Key]
		if !ok {
			continue
		}
		if now.Sub(rec.cooldownUntil) >= l.cfg.Window {
			delete(l.records, kv.Key)
			continue
		}
		kept = append(kept, kv)
	}
	l.purgeOrder = kept
}
