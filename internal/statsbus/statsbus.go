// Package statsbus implements component I: the statistics and
// reinitialisation buses, plus a best-effort per-second tick used for
// rate-limiter and cooldown housekeeping.
package statsbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// Method is the classified DHCP method a statistics record reports.
type Method int

const (
	MethodNone Method = iota
	MethodDiscover
	MethodRequest
	MethodDecline
	MethodRelease
	MethodInform
	MethodLeaseQuery
)

// Record is one statistics record (§4.I), emitted exactly once per inbound
// DHCP packet, including dropped ones.
type Record struct {
	SourceAddr     string
	MAC            addr.MAC
	IP             addr.IPv4
	SubnetID       string
	Serial         uint32
	Method         Method
	ProcessingTime time.Duration
	Processed      bool
	PXE            bool
}

// StatsFunc subscribes to statistics records. It must be non-blocking
// (§5 "callbacks are contractually non-blocking").
type StatsFunc func(Record)

// ReinitFunc subscribes to the reinitialisation broadcast. Returning an
// error escalates to server shutdown (§4.I, §7 "ReinitFailure").
type ReinitFunc func(context.Context) error

// TickFunc subscribes to the approximately-once-per-second housekeeping
// tick (§4.I).
type TickFunc func()

// ErrReinitFailed wraps whichever reinit callback's error caused the
// escalation (§7 "ReinitFailure"); callers match it with errors.Is to
// decide whether a failure came from this bus specifically.
const ErrReinitFailed errors.Error = "statsbus: a reinitialisation callback failed"

// Bus holds the three independent subscriber lists described in §4.I, each
// behind its own lock (§5 "one lock each protecting the subscriber list").
type Bus struct {
	logger *slog.Logger

	statsMu   sync.Mutex
	statsSubs []StatsFunc

	reinitMu   sync.Mutex
	reinitSubs []ReinitFunc

	tickMu   sync.Mutex
	tickSubs []TickFunc
}

// New builds an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// SubscribeStats registers a statistics subscriber.
func (b *Bus) SubscribeStats(f StatsFunc) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.statsSubs = append(b.statsSubs, f)
}

// SubscribeReinit registers a reinitialisation subscriber.
func (b *Bus) SubscribeReinit(f ReinitFunc) {
	b.reinitMu.Lock()
	defer b.reinitMu.Unlock()
	b.reinitSubs = append(b.reinitSubs, f)
}

// SubscribeTick registers a tick subscriber.
func (b *Bus) SubscribeTick(f TickFunc) {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	b.tickSubs = append(b.tickSubs, f)
}

// Emit delivers rec to every statistics subscriber, holding the subscriber
// lock for the duration (§5: "callbacks are invoked while holding the lock
// for simplicity").
func (b *Bus) Emit(rec Record) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	for _, f := range b.statsSubs {
		f(rec)
	}
}

// Reinitialise invokes every reinit subscriber synchronously. If any
// callback fails, the remaining callbacks still run (so independent
// components all get a chance to flush), and all their errors are joined,
// wrapped in ErrReinitFailed and returned so the caller can clear its alive flag and
// shut down in orderly fashion (§4.I, §7).
func (b *Bus) Reinitialise(ctx context.Context) error {
	b.reinitMu.Lock()
	defer b.reinitMu.Unlock()

	var errs []error
	for _, f := range b.reinitSubs {
		if err := f(ctx); err != nil {
			b.logger.ErrorContext(ctx, "reinit callback failed", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Annotate(errors.Join(errs...), string(ErrReinitFailed)+": %w")
}

// Tick invokes every tick subscriber once. The caller (typically a
// one-second ticker loop owned by the server) decides the cadence; Tick
// itself does no timing.
func (b *Bus) Tick() {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	for _, f := range b.tickSubs {
		f()
	}
}

// RunTicker drives Tick roughly once per second until ctx is cancelled
// (§4.I "approximately once per second").
func (b *Bus) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}
