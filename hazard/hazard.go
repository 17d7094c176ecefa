// Package hazard implements hazard-pointer safe memory reclamation:
// readers publish the pointers they are actively dereferencing, and a
// [Manager] defers destruction of unlinked pointers until no reader
// has one published.
//
// The design is grounded on a classic HPRecType/Scan/HelpScan layout
// (per-record active flag, fixed hazard-slot array, intrusive
// freelist, per-record retire list). Go goroutines have no stable
// identity or thread-local storage, so where the original binds one
// record to one OS thread for its lifetime, this package binds one
// record to one [Guard]: call [Manager.Acquire] at the start of a
// lock-free operation, use the returned [Guard] to publish hazard
// pointers and retire unlinked nodes, and call [Guard.Release] when
// the operation is done. The record itself is kept on a global
// freelist and reused by the next caller, exactly like the original's
// allocate-by-scan-then-claim algorithm.
package hazard

import (
	"sync"
	"sync/atomic"
	"unsafe"

	concore "github.com/joeycumines/go-concore"
)

// retireEntry is an erased pointer plus its deleter, matching the
// original's NodeToRetire.
type retireEntry struct {
	ptr     unsafe.Pointer
	deleter func(unsafe.Pointer)
}

// record is one thread's (here: one Guard's) hazard-pointer slots and
// retire list. Records are never freed once allocated; they are
// recycled via the active flag, forming the manager's freelist.
type record struct {
	active  atomic.Bool
	slots   []unsafe.Pointer
	retMu   sync.Mutex
	retired []retireEntry
	next    atomic.Pointer[record]
}

// Manager owns the global record freelist and the hazard-slot count
// (K) granted to every record.
type Manager struct {
	maxHP int
	head  atomic.Pointer[record]
	numHP atomic.Int64 // number of allocated records (L in the retire threshold 2*L)
	id    int64
	log   concore.Logger
}

// Option configures a Manager at construction.
type Option interface{ apply(*Manager) }

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// WithLogger sets the structured logger used for scan diagnostics.
// The default (nil) falls back to the package-level global logger
// (see [concore.SetStructuredLogger]).
func WithLogger(l concore.Logger) Option {
	return optionFunc(func(m *Manager) { m.log = l })
}

// WithManagerID tags log entries emitted by this manager.
func WithManagerID(id int64) Option {
	return optionFunc(func(m *Manager) { m.id = id })
}

// NewManager creates a Manager granting maxHP hazard-pointer slots
// per thread record. maxHP must be positive.
func NewManager(maxHP int, opts ...Option) *Manager {
	if maxHP <= 0 {
		panic("hazard: maxHP must be positive")
	}
	m := &Manager{maxHP: maxHP}
	for _, o := range opts {
		if o != nil {
			o.apply(m)
		}
	}
	return m
}

// Guard grants a single lock-free operation write access to one
// thread record's hazard slots and retire list.
type Guard struct {
	mgr *Manager
	rec *record
}

// Acquire claims a thread record (reusing an inactive one from the
// freelist if available, otherwise allocating and prepending a new
// one) and returns a Guard over it. The Guard must be released with
// [Guard.Release] when the caller's operation is done.
func (m *Manager) Acquire() *Guard {
	// first pass: try to claim an existing inactive record
	for p := m.head.Load(); p != nil; p = p.next.Load() {
		if !p.active.Load() && p.active.CompareAndSwap(false, true) {
			return &Guard{mgr: m, rec: p}
		}
	}

	// none free: allocate and prepend
	rec := &record{slots: make([]unsafe.Pointer, m.maxHP)}
	rec.active.Store(true)
	for {
		head := m.head.Load()
		rec.next.Store(head)
		if m.head.CompareAndSwap(head, rec) {
			m.numHP.Add(1)
			return &Guard{mgr: m, rec: rec}
		}
	}
}

// Release clears all of the guard's hazard slots (release order) and
// returns the record to the manager's freelist for reuse. It does not
// drain the retire list; retired nodes remain pending until a future
// Scan reclaims them.
func (g *Guard) Release() {
	for i := range g.rec.slots {
		atomic.StorePointer(&g.rec.slots[i], nil)
	}
	g.rec.active.Store(false)
}

// Publish stores p into hazard slot i with sequentially-consistent
// ordering, so any subsequent validating load by this goroutine is
// ordered after the publication from the perspective of a concurrent
// Scan. Callers must re-validate the source of p after publishing and
// retry if it changed. Returns a [concore.InvalidSlot] error if i is
// out of range.
func (g *Guard) Publish(i int, p unsafe.Pointer) error {
	if i < 0 || i >= len(g.rec.slots) {
		return concore.NewError(concore.InvalidSlot, nil, "hazard: slot %d out of range [0,%d)", i, len(g.rec.slots))
	}
	atomic.StorePointer(&g.rec.slots[i], p)
	return nil
}

// Clear releases hazard slot i (stores nil, release order).
func (g *Guard) Clear(i int) {
	if i < 0 || i >= len(g.rec.slots) {
		return
	}
	atomic.StorePointer(&g.rec.slots[i], nil)
}

// Retire appends (p, deleter) to this guard's retire list. When the
// list reaches 2*L entries (L = the manager's current record count),
// Scan then HelpScan run automatically.
func (g *Guard) Retire(p unsafe.Pointer, deleter func(unsafe.Pointer)) {
	g.rec.retMu.Lock()
	g.rec.retired = append(g.rec.retired, retireEntry{ptr: p, deleter: deleter})
	n := len(g.rec.retired)
	g.rec.retMu.Unlock()

	if int64(n) >= 2*g.mgr.numHP.Load() {
		g.mgr.scan(g.rec)
		g.mgr.helpScan(g.rec)
	}
}

// hazardSet snapshots every non-null hazard slot across all records.
func (m *Manager) hazardSet() map[unsafe.Pointer]struct{} {
	h := make(map[unsafe.Pointer]struct{})
	for p := m.head.Load(); p != nil; p = p.next.Load() {
		for i := range p.slots {
			if ptr := atomic.LoadPointer(&p.slots[i]); ptr != nil {
				h[ptr] = struct{}{}
			}
		}
	}
	return h
}

// scan partitions rec's retire list into survivors (still published)
// and reclaimable entries, destroying the latter.
func (m *Manager) scan(rec *record) {
	h := m.hazardSet()

	rec.retMu.Lock()
	list := rec.retired
	rec.retired = nil
	rec.retMu.Unlock()

	survivors := list[:0]
	reclaimed := 0
	for _, e := range list {
		if _, hazardous := h[e.ptr]; hazardous {
			survivors = append(survivors, e)
		} else {
			e.deleter(e.ptr)
			reclaimed++
		}
	}

	rec.retMu.Lock()
	rec.retired = append(rec.retired, survivors...)
	rec.retMu.Unlock()

	concore.LogHazardScan(m.log, m.id, reclaimed, len(survivors))
}

// helpScan claims every currently-unclaimed record other than rec,
// folds its retire list into rec's, re-scans, then releases the
// claim — exactly the original's HelpScan.
func (m *Manager) helpScan(rec *record) {
	for p := m.head.Load(); p != nil; p = p.next.Load() {
		if p == rec {
			continue
		}
		if !p.active.CompareAndSwap(false, true) {
			continue
		}

		p.retMu.Lock()
		orphaned := p.retired
		p.retired = nil
		p.retMu.Unlock()

		if len(orphaned) > 0 {
			rec.retMu.Lock()
			rec.retired = append(rec.retired, orphaned...)
			rec.retMu.Unlock()
			m.scan(rec)
		}

		p.active.Store(false)
	}
}

// NumRecords reports the number of thread records the manager has
// ever allocated (L in the 2*L retire threshold).
func (m *Manager) NumRecords() int64 {
	return m.numHP.Load()
}
