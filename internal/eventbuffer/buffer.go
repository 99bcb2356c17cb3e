// Package eventbuffer implements the durable update buffer (spec §4.4):
// a bounded, time-ordered, single-subscriber log of lobby updates
// supporting catch-up subscription with backpressure and eviction.
package eventbuffer

import (
	"errors"
	"sync"
	"time"
)

// Event is one buffered (time, battleId, update) record (spec §3
// BufferedEvent). Update is left as `any` here — the adapter package
// supplies the concrete LobbyUpdate type — so this package stays a
// reusable, domain-agnostic log.
type Event struct {
	TimeMicros int64
	BattleID   string
	Update     any
}

// Callback is invoked once per delivered event, in increasing
// TimeMicros order. The push path blocks until it returns (spec §4.4
// backpressure); per §4.4 the contract requires it never to fail — a
// panicking callback is a programming error, not a recoverable one.
type Callback func(Event)

var (
	// ErrCallbackAlreadySet is returned by Subscribe when another
	// callback is already installed (spec §4.4, §8).
	ErrCallbackAlreadySet = errors.New("eventbuffer: callback_already_set")

	// ErrTooFarInThePast is returned by Subscribe when since predates
	// the buffer's retention window (spec §4.4, §8).
	ErrTooFarInThePast = errors.New("eventbuffer: too_far_in_the_past")
)

// nowMicros is a variable so tests can fake wall-clock time without
// the package depending on a testing-only interface; production code
// never touches them (spec §9 design note: derive buffer timestamps
// from a monotonic source in spirit, wall clock in format).
var nowMicros = func() int64 { return time.Now().UnixMicro() }

// Buffer is a bounded, time-ordered, single-subscriber event log.
type Buffer struct {
	maxAgeMicros       int64
	droppingFreqMicros int64

	mu            sync.Mutex
	events        []Event
	lastTimestamp int64
	lastEviction  int64
	subscriber    Callback
	subscribedAt  int64
}

// New returns a Buffer retaining events for maxAge. droppingFrequency
// rate-limits eviction scans; if zero, it defaults to maxAge/10 (spec
// §4.4).
func New(maxAge, droppingFrequency time.Duration) *Buffer {
	if droppingFrequency <= 0 {
		droppingFrequency = maxAge / 10
	}
	return &Buffer{
		maxAgeMicros:       maxAge.Microseconds(),
		droppingFreqMicros: droppingFrequency.Microseconds(),
	}
}

// Push timestamps update as (battleId, update) and appends it. The
// timestamp is max(now, lastTimestamp+1) so timestamps are strictly
// monotonic (spec §3). If a subscriber is active, Push blocks until
// the subscriber's callback returns for this event (spec §4.4
// backpressure).
//
// mu is held for the duration of the callback invocation, not just the
// append: the buffer has exactly one writer and one consumer (spec
// §5), so this simply serializes delivery in timestamp order without
// any extra signalling, at the cost of the callback never being
// allowed to call back into this Buffer synchronously.
func (b *Buffer) Push(battleID string, update any) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := nowMicros()
	if ts <= b.lastTimestamp {
		ts = b.lastTimestamp + 1
	}
	b.lastTimestamp = ts
	ev := Event{TimeMicros: ts, BattleID: battleID, Update: update}
	b.events = append(b.events, ev)
	b.maybeEvictLocked(ts)

	if b.subscriber != nil {
		b.subscriber(ev)
	}
	return ts
}

// maybeEvictLocked drops events older than now-maxAge, rate-limited by
// droppingFrequency (spec §4.4 Eviction). Must be called with mu held.
// Never evicts anything at or after the timestamp currently being
// delivered: the cutoff lies maxAge before it, and Push holds mu for
// the whole delivery, so no eviction runs while a callback is in flight.
func (b *Buffer) maybeEvictLocked(now int64) {
	if now-b.lastEviction < b.droppingFreqMicros {
		return
	}
	b.lastEviction = now
	cutoff := now - b.maxAgeMicros
	i := 0
	for i < len(b.events) && b.events[i].TimeMicros <= cutoff {
		i++
	}
	if i > 0 {
		b.events = append([]Event(nil), b.events[i:]...)
	}
}

// Subscribe installs cb and immediately replays every stored event with
// TimeMicros > since, in order, then continues delivering future
// pushes to cb (spec §4.4). Fails with ErrCallbackAlreadySet if a
// callback is already installed, or ErrTooFarInThePast if since
// predates the retention window.
func (b *Buffer) Subscribe(since int64, cb Callback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscriber != nil {
		return ErrCallbackAlreadySet
	}
	now := nowMicros()
	if since < now-b.maxAgeMicros {
		return ErrTooFarInThePast
	}

	for _, ev := range b.events {
		if ev.TimeMicros > since {
			cb(ev)
		}
	}
	b.subscriber = cb
	b.subscribedAt = since
	return nil
}

// Unsubscribe detaches the current callback, if any. No further
// deliveries occur after it returns.
func (b *Buffer) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriber = nil
}

// Len returns the number of currently retained events (test/diagnostic
// helper).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
