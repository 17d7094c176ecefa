// Package ratelimit implements a token-bucket admission controller
// with burst smoothing (spec.md §4.7): permits refill at a steady
// rate, up to a configurable burst capacity, and callers reserve
// permits ahead of time, sleeping out only the portion of the wait
// that exceeds what is already banked in the bucket.
//
// The bucket bookkeeping (stableIntervalMicros/maxPermits/
// storedPermits/nextFreeMicros, resync-then-reserve under a single
// mutex, caller sleeps outside the lock) mirrors the teacher
// package's catrate.Limiter in spirit — a shared-state rate gate
// guarded by one mutex, an injectable clock ([WithClock]) so tests
// never sleep for real (where catrate/limiter.go uses its
// timeNow/timeNewTicker variables) — but
// trades catrate's per-category sliding-window ring buffer for a
// single token bucket, since spec.md §4.7 specifies burst smoothing
// rather than a multi-window hit counter.
package ratelimit

import (
	"sync"
	"time"

	concore "github.com/joeycumines/go-concore"
)

const maxPermitsPerSecond = 1e6

// Limiter is a token-bucket rate limiter: permits accrue at
// permitsPerSecond up to maxPermits = permitsPerSecond * maxBurstSeconds,
// and reservations are serviced from the bucket first, falling back to
// a computed wait for the shortfall.
type Limiter struct {
	mu    sync.Mutex
	clock concore.Clock
	log   concore.Logger
	id    int64

	stableIntervalMicros float64
	maxBurstSeconds      float64
	maxPermits           float64
	storedPermits        float64
	nextFreeMicros       int64
}

// NewLimiter creates a Limiter admitting permitsPerSecond permits per
// second, every second, with a default max burst of one second's
// worth of permits (override with [WithMaxBurstSeconds]).
// permitsPerSecond must be positive and no greater than 10^6, and
// maxBurstSeconds must be positive; violations return
// [concore.InvalidArgument].
func NewLimiter(permitsPerSecond float64, opts ...Option) (*Limiter, error) {
	if permitsPerSecond <= 0 || permitsPerSecond > maxPermitsPerSecond {
		return nil, concore.NewError(concore.InvalidArgument, nil, "ratelimit: permitsPerSecond %v must be in (0, %v]", permitsPerSecond, maxPermitsPerSecond)
	}
	cfg := resolveOptions(opts)
	if cfg.maxBurstSecs <= 0 {
		return nil, concore.NewError(concore.InvalidArgument, nil, "ratelimit: maxBurstSeconds %v must be positive", cfg.maxBurstSecs)
	}

	l := &Limiter{
		clock: cfg.clock,
		log:   cfg.log,
		id:    cfg.id,

		stableIntervalMicros: 1e6 / permitsPerSecond,
		maxBurstSeconds:      cfg.maxBurstSecs,
		maxPermits:           permitsPerSecond * cfg.maxBurstSecs,
	}
	l.storedPermits = 0
	l.nextFreeMicros = l.clock.NowMicros()
	return l, nil
}

// resync mints any permits that have accrued since nextFreeMicros,
// capped at maxPermits, and advances nextFreeMicros to now. Must be
// called with mu held.
func (l *Limiter) resync(nowMicros int64) {
	if nowMicros > l.nextFreeMicros {
		newPermits := float64(nowMicros-l.nextFreeMicros) / l.stableIntervalMicros
		l.storedPermits = min(l.maxPermits, l.storedPermits+newPermits)
		l.nextFreeMicros = nowMicros
	}
}

// reserve runs the resync-reserve algorithm under the lock and
// returns the absolute moment (microseconds) at which the reserved
// permits become available, i.e. the delay the caller must sleep is
// max(0, momentAvailable-nowMicros). timeoutMicros < 0 means no
// timeout; ok is false if servicing the reservation within
// timeoutMicros is impossible, in which case nothing is reserved.
func (l *Limiter) reserve(n int, nowMicros int64, timeoutMicros int64) (momentAvailable int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resync(nowMicros)

	useStored := min(float64(n), l.storedPermits)
	fresh := float64(n) - useStored
	waitMicros := int64(fresh * l.stableIntervalMicros)

	momentAvailable = l.nextFreeMicros
	if timeoutMicros >= 0 && momentAvailable > nowMicros+timeoutMicros {
		return 0, false
	}

	l.storedPermits -= useStored
	l.nextFreeMicros += waitMicros
	return momentAvailable, true
}

// Acquire reserves n permits, sleeping until they become available,
// and returns the elapsed wait in microseconds (never negative). n
// must be positive.
func (l *Limiter) Acquire(n int) (int64, error) {
	if n <= 0 {
		return 0, concore.NewError(concore.InvalidArgument, nil, "ratelimit: n %d must be positive", n)
	}
	now := l.clock.NowMicros()
	moment, _ := l.reserve(n, now, -1)
	wait := moment - now
	if wait < 0 {
		wait = 0
	}
	l.clock.Sleep(time.Duration(wait) * time.Microsecond)
	return wait, nil
}

// TryAcquire returns true iff n permits become reservable within
// timeoutMicros; if true, it sleeps the required delay (possibly
// zero) before returning. If false, no permits are consumed and it
// returns immediately. n must be positive; timeoutMicros must be
// non-negative.
func (l *Limiter) TryAcquire(n int, timeoutMicros int64) (bool, error) {
	if n <= 0 {
		return false, concore.NewError(concore.InvalidArgument, nil, "ratelimit: n %d must be positive", n)
	}
	if timeoutMicros < 0 {
		return false, concore.NewError(concore.InvalidArgument, nil, "ratelimit: timeoutMicros %d must be non-negative", timeoutMicros)
	}
	now := l.clock.NowMicros()
	moment, ok := l.reserve(n, now, timeoutMicros)
	if !ok {
		return false, nil
	}
	wait := moment - now
	if wait < 0 {
		wait = 0
	}
	l.clock.Sleep(time.Duration(wait) * time.Microsecond)
	return true, nil
}

// SetRate re-scales the permit rate. stored_permits is rescaled to
// preserve the burst fraction already banked: new_stored =
// old_stored * new_max/old_max. Per spec.md §9's explicit guidance,
// the old_max == 0 case (which the original left undefined) sets
// storedPermits to 0 rather than dividing by zero.
// permitsPerSecond must be positive and no greater than 10^6.
func (l *Limiter) SetRate(permitsPerSecond float64) error {
	if permitsPerSecond <= 0 || permitsPerSecond > maxPermitsPerSecond {
		return concore.NewError(concore.InvalidArgument, nil, "ratelimit: permitsPerSecond %v must be in (0, %v]", permitsPerSecond, maxPermitsPerSecond)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// rate_limiter.cc's SetRate sets m_stable_interval_micros to the
	// new rate before Resync, so permits accrued over the elapsed
	// idle time are minted at the new rate; m_max_permits (the resync
	// cap, and the "old" denominator for the burst-fraction rescale
	// below) only changes afterward.
	l.stableIntervalMicros = 1e6 / permitsPerSecond

	now := l.clock.NowMicros()
	l.resync(now)

	oldMax := l.maxPermits
	oldStored := l.storedPermits
	newMax := permitsPerSecond * l.maxBurstSeconds

	var newStored float64
	if oldMax == 0 {
		newStored = 0
	} else {
		newStored = oldStored * newMax / oldMax
	}

	l.maxPermits = newMax
	l.storedPermits = newStored

	concore.LogRateLimiterRescale(l.log, l.id, oldMax, newMax, oldStored, newStored)
	return nil
}

// Rate returns the limiter's current configured permits per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return 1e6 / l.stableIntervalMicros
}

// MaxPermits returns the limiter's current burst capacity.
func (l *Limiter) MaxPermits() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPermits
}
