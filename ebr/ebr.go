// Package ebr implements epoch-based safe memory reclamation: threads
// entering a critical region latch the manager's current epoch; nodes
// retired while epoch e was current are destroyed only once every
// thread has either left its critical region or advanced past e,
// which requires exactly three live generations (two is provably
// insufficient: a thread observing epoch e could still be inside a
// critical region when writers want to free epoch e's retirees).
//
// As with [hazard], Go goroutines have no stable identity, so a
// [Manager]'s per-thread record is claimed for the duration of a
// [Guard] rather than for a goroutine's lifetime, and returned to the
// manager's freelist on [Guard.Release].
package ebr

import (
	"sync"
	"sync/atomic"
	"unsafe"

	concore "github.com/joeycumines/go-concore"
)

type retireEntry struct {
	ptr     unsafe.Pointer
	deleter func(unsafe.Pointer)
}

type bucket struct {
	mu   sync.Mutex
	list []retireEntry
}

// record is one thread's epoch-observation slot.
type record struct {
	claimed atomic.Bool
	active  atomic.Bool // true while inside a critical region
	epoch   atomic.Int32
	next    atomic.Pointer[record]
}

// Manager tracks the global epoch (one of 0, 1, 2) and the three
// retire buckets it indexes.
type Manager struct {
	globalEpoch atomic.Int32
	head        atomic.Pointer[record]
	buckets     [3]bucket
	id          int64
	log         concore.Logger
}

// Option configures a Manager at construction.
type Option interface{ apply(*Manager) }

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// WithManagerID tags log entries emitted by this manager.
func WithManagerID(id int64) Option {
	return optionFunc(func(m *Manager) { m.id = id })
}

// WithLogger sets the structured logger used for epoch-advance
// diagnostics. The default is the package-level global logger (see
// [concore.SetStructuredLogger]).
func WithLogger(l concore.Logger) Option {
	return optionFunc(func(m *Manager) { m.log = l })
}

// NewManager creates an EBR Manager with the global epoch at 0.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, o := range opts {
		if o != nil {
			o.apply(m)
		}
	}
	return m
}

// Guard is a claimed thread record.
type Guard struct {
	mgr *Manager
	rec *record
}

// Acquire claims an unclaimed thread record, or allocates a new one,
// exactly like [hazard.Manager.Acquire]'s freelist. The returned Guard
// must be released with [Guard.Release] once the caller is done using
// it across however many critical regions it needs.
func (m *Manager) Acquire() *Guard {
	for p := m.head.Load(); p != nil; p = p.next.Load() {
		if !p.claimed.Load() && p.claimed.CompareAndSwap(false, true) {
			return &Guard{mgr: m, rec: p}
		}
	}

	rec := &record{}
	rec.claimed.Store(true)
	for {
		head := m.head.Load()
		rec.next.Store(head)
		if m.head.CompareAndSwap(head, rec) {
			return &Guard{mgr: m, rec: rec}
		}
	}
}

// Release marks the thread record inactive and returns it to the
// freelist for reuse.
func (g *Guard) Release() {
	g.rec.active.Store(false)
	g.rec.claimed.Store(false)
}

// EnterCritical marks the thread active and latches its observed
// epoch to the manager's current global epoch.
func (g *Guard) EnterCritical() {
	g.rec.epoch.Store(g.mgr.globalEpoch.Load())
	g.rec.active.Store(true)
}

// ExitCritical clears the active flag.
func (g *Guard) ExitCritical() {
	g.rec.active.Store(false)
}

// Scope runs fn inside a critical region, guaranteeing ExitCritical
// runs even if fn panics — the Go analogue of the original's
// EbrGuard RAII wrapper.
func (g *Guard) Scope(fn func()) {
	g.EnterCritical()
	defer g.ExitCritical()
	fn()
}

// Retire pushes (p, deleter) onto the retire bucket indexed by this
// thread's currently observed epoch, then attempts to advance the
// global epoch.
func (g *Guard) Retire(p unsafe.Pointer, deleter func(unsafe.Pointer)) {
	e := g.rec.epoch.Load()
	b := &g.mgr.buckets[e]
	b.mu.Lock()
	b.list = append(b.list, retireEntry{ptr: p, deleter: deleter})
	b.mu.Unlock()
	g.mgr.advanceIfQuiescent()
}

// advanceIfQuiescent frees the bucket at (e+1)%3 and publishes e+1
// once every active record has observed the current global epoch e.
func (m *Manager) advanceIfQuiescent() {
	e := m.globalEpoch.Load()
	for p := m.head.Load(); p != nil; p = p.next.Load() {
		if p.active.Load() && p.epoch.Load() != e {
			return
		}
	}

	freeIdx := (e + 1) % 3
	b := &m.buckets[freeIdx]
	b.mu.Lock()
	list := b.list
	b.list = nil
	b.mu.Unlock()

	for _, ent := range list {
		ent.deleter(ent.ptr)
	}

	next := (e + 1) % 3
	if m.globalEpoch.CompareAndSwap(e, next) {
		concore.LogEBRAdvance(m.log, m.id, int(e), int(next), len(list))
	}
}

// GlobalEpoch returns the manager's current epoch, for diagnostics
// and tests.
func (m *Manager) GlobalEpoch() int {
	return int(m.globalEpoch.Load())
}
