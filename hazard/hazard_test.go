package hazard_test

import (
	"bytes"
	"sync/atomic"
	"testing"
	"unsafe"

	concore "github.com/joeycumines/go-concore"
	"github.com/joeycumines/go-concore/hazard"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestManager_WithLoggerReceivesScanDiagnostics proves WithLogger's
// Logger is the one actually consulted on the Scan path, rather than
// a disguised no-op field shadowed by the package-level global
// logger.
func TestManager_WithLoggerReceivesScanDiagnostics(t *testing.T) {
	var instanceBuf, globalBuf bytes.Buffer
	concore.SetStructuredLogger(concore.NewWriterLogger(concore.LevelDebug, &globalBuf))
	t.Cleanup(func() { concore.SetStructuredLogger(concore.NewNoOpLogger()) })

	mgr := hazard.NewManager(1, hazard.WithLogger(concore.NewWriterLogger(concore.LevelDebug, &instanceBuf)))
	g := mgr.Acquire()
	var a, b int
	g.Retire(unsafe.Pointer(&a), func(unsafe.Pointer) {})
	g.Retire(unsafe.Pointer(&b), func(unsafe.Pointer) {})
	g.Release()

	require.Contains(t, instanceBuf.String(), "hazard scan complete")
	require.Empty(t, globalBuf.String())
}

func TestManager_PublishClear(t *testing.T) {
	mgr := hazard.NewManager(2)
	g := mgr.Acquire()
	defer g.Release()

	var x int
	require.NoError(t, g.Publish(0, unsafe.Pointer(&x)))
	require.True(t, hazard.HPListContainsForTest(mgr, unsafe.Pointer(&x)))

	g.Clear(0)
	require.False(t, hazard.HPListContainsForTest(mgr, unsafe.Pointer(&x)))
}

func TestManager_PublishInvalidSlot(t *testing.T) {
	mgr := hazard.NewManager(1)
	g := mgr.Acquire()
	defer g.Release()

	err := g.Publish(5, unsafe.Pointer(&struct{}{}))
	require.Error(t, err)
}

func TestManager_RetireUnpublishedReclaims(t *testing.T) {
	mgr := hazard.NewManager(1)
	g := mgr.Acquire()
	defer g.Release()

	var reclaimed int32
	var x int
	// push enough retirements past the 2*L threshold to force a scan.
	for i := 0; i < 4; i++ {
		g.Retire(unsafe.Pointer(&x), func(unsafe.Pointer) {
			atomic.AddInt32(&reclaimed, 1)
		})
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&reclaimed), int32(1))
}

func TestManager_RetirePublishedSurvives(t *testing.T) {
	mgr := hazard.NewManager(1)
	reader := mgr.Acquire()
	var x int
	require.NoError(t, reader.Publish(0, unsafe.Pointer(&x)))

	writer := mgr.Acquire()
	defer writer.Release()
	for i := 0; i < 4; i++ {
		writer.Retire(unsafe.Pointer(&x), func(unsafe.Pointer) {
			t.Fatal("reclaimed a still-hazardous pointer")
		})
	}
	require.True(t, hazard.RetireListContainsForTest(mgr, unsafe.Pointer(&x)))

	reader.Release()
}

// msNode is a Michael-Scott queue node.
type msNode struct {
	value int
	next  atomic.Pointer[msNode]
}

// msQueue is a lock-free FIFO queue reclaiming unlinked nodes through
// a hazard.Manager, grounded on spec.md §8 scenario 7.
type msQueue struct {
	head atomic.Pointer[msNode]
	tail atomic.Pointer[msNode]
	mgr  *hazard.Manager
}

func newMSQueue() *msQueue {
	dummy := &msNode{}
	q := &msQueue{mgr: hazard.NewManager(2)}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *msQueue) Enqueue(v int) {
	n := &msNode{value: v}
	g := q.mgr.Acquire()
	defer g.Release()
	for {
		tail := q.tail.Load()
		_ = g.Publish(0, unsafe.Pointer(tail))
		if tail != q.tail.Load() {
			continue
		}
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

func (q *msQueue) Dequeue() (int, bool) {
	g := q.mgr.Acquire()
	defer g.Release()
	for {
		head := q.head.Load()
		_ = g.Publish(0, unsafe.Pointer(head))
		if head != q.head.Load() {
			continue
		}
		tail := q.tail.Load()
		next := head.next.Load()
		_ = g.Publish(1, unsafe.Pointer(next))
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return 0, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		v := next.value
		if q.head.CompareAndSwap(head, next) {
			g.Retire(unsafe.Pointer(head), func(unsafe.Pointer) {})
			return v, true
		}
	}
}

func TestMichaelScottQueue_StressEqualEnqueueDequeue(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	const producers = 8
	const perProducer = 2000

	q := newMSQueue()

	var eg errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		eg.Go(func() error {
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	seen := make(map[int]bool, producers*perProducer)
	for i := 0; i < producers*perProducer; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok, "queue ran dry early at i=%d", i)
		require.False(t, seen[v], "duplicate dequeue of %d", v)
		seen[v] = true
	}
	_, ok := q.Dequeue()
	require.False(t, ok, "queue should be empty")
	require.Len(t, seen, producers*perProducer)
}
