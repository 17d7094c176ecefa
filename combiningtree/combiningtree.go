// Package combiningtree implements the Combining Tree: a binary tree
// that reduces contention on a shared counter by letting threads pair
// up and combine their increments on the way up, then distributing
// results on the way down.
//
// Each node uses a mutex and condvar because the protocol is
// inherently blocking — it depends on a partner arriving at the same
// node — and the blocking design is deliberate (spec.md §9); this is
// not a candidate for a lock-free rewrite.
package combiningtree

import (
	"sync"

	concore "github.com/joeycumines/go-concore"
	"github.com/joeycumines/go-concore/netcount"
)

type nodeState int32

const (
	stateIdle nodeState = iota
	stateFirst
	stateSecond
	stateResult
	stateRoot
)

func (s nodeState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateFirst:
		return "FIRST"
	case stateSecond:
		return "SECOND"
	case stateResult:
		return "RESULT"
	case stateRoot:
		return "ROOT"
	default:
		return "UNKNOWN"
	}
}

// node is one combining-tree node: a mutex+condvar state machine with
// state in {IDLE, FIRST, SECOND, RESULT} for internal nodes, or
// permanently ROOT for the tree's root.
type node struct {
	mu          sync.Mutex
	cond        *sync.Cond
	locked      bool
	state       nodeState
	firstValue  int
	secondValue int
	result      int
	parent      *node
	index       int
}

func newNode(index int) *node {
	n := &node{state: stateIdle, index: index}
	n.cond = sync.NewCond(&n.mu)
	return n
}

func logicErr(treeID int64, n *node, phase string) error {
	concore.LogCombiningTreeFault(treeID, n.index, n.state.String())
	return concore.NewError(concore.LogicError, nil, "combiningtree: node %d in unexpected state %s during %s", n.index, n.state, phase)
}

// precombine runs the ascend phase for one node, returning the node
// itself if this call should stop here, or nil (continue climbing to
// n.parent) otherwise.
func (n *node) precombine(treeID int64) (stop *node, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.locked {
		n.cond.Wait()
	}
	switch n.state {
	case stateRoot:
		return n, nil
	case stateIdle:
		n.state = stateFirst
		return nil, nil
	case stateFirst:
		n.state = stateSecond
		n.locked = true
		return n, nil
	default:
		return nil, logicErr(treeID, n, "precombine")
	}
}

// combine runs the combine-ascend step for one node strictly below
// the stop node, recording this caller's own contribution into
// firstValue and merging in a partner's secondValue if one has
// already joined this node.
func (n *node) combine(treeID int64, combined int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.locked {
		n.cond.Wait()
	}
	n.locked = true
	switch n.state {
	case stateFirst:
		n.firstValue = combined
		return n.firstValue, nil
	case stateSecond:
		n.firstValue = combined
		return n.firstValue + n.secondValue, nil
	default:
		return 0, logicErr(treeID, n, "combine")
	}
}

// op runs at the stop node: a fetch-and-add if it is the root, or a
// handoff-and-wait if it is a SECOND node whose partner will deliver
// the result.
func (n *node) op(treeID int64, combined int) (int, error) {
	n.mu.Lock()
	switch n.state {
	case stateRoot:
		prior := n.result
		n.result += combined
		n.mu.Unlock()
		return prior, nil
	case stateSecond:
		n.secondValue = combined
		n.locked = false
		n.cond.Broadcast()
		for n.state != stateResult {
			n.cond.Wait()
		}
		prior := n.result
		n.state = stateIdle
		n.locked = false
		n.cond.Broadcast()
		n.mu.Unlock()
		return prior, nil
	default:
		n.mu.Unlock()
		return 0, logicErr(treeID, n, "op")
	}
}

// distribute runs the descend step for one node below the stop node,
// waking a waiting partner if one combined through here. prior is the
// unchanged value obtained from the stop node's op — every node on
// the descend stack receives the same prior, it is never advanced
// (matching the original's void Distribute(int prior)).
func (n *node) distribute(treeID int64, prior int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case stateFirst:
		n.state = stateIdle
		n.locked = false
		n.cond.Broadcast()
	case stateSecond:
		n.result = prior + n.firstValue
		n.state = stateResult
		n.cond.Broadcast()
	default:
		return logicErr(treeID, n, "distribute")
	}
	return nil
}

// Tree is a combining tree over a fixed power-of-two number of
// leaves; up to two thread ids share each leaf (leaf index =
// tid/2, matching the original's thread-pairing contract).
type Tree struct {
	nodes  []*node
	leaves []*node
	id     int64
}

// Option configures a Tree at construction.
type Option interface{ apply(*Tree) }

type optionFunc func(*Tree)

func (f optionFunc) apply(t *Tree) { f(t) }

// WithTreeID tags log entries emitted by this tree (used only for
// LogCombiningTreeFault, since the protocol otherwise never logs).
func WithTreeID(id int64) Option {
	return optionFunc(func(t *Tree) { t.id = id })
}

// New constructs a Tree with the given number of leaves, which must
// be a power of two >= 1. Up to 2*numLeaves distinct thread ids can
// call [Tree.GetAndIncrement] concurrently.
func New(numLeaves int, opts ...Option) *Tree {
	if numLeaves < 1 || !netcount.IsPowerOfTwo(numLeaves) {
		panic(concore.NewError(concore.InvalidArgument, nil, "combiningtree: numLeaves %d must be a power of two >= 1", numLeaves))
	}

	total := 2*numLeaves - 1
	nodes := make([]*node, total)
	for i := range nodes {
		nodes[i] = newNode(i)
	}
	nodes[0].state = stateRoot
	for i := 1; i < total; i++ {
		nodes[i].parent = nodes[(i-1)/2]
	}

	t := &Tree{nodes: nodes, leaves: nodes[numLeaves-1:]}
	for _, o := range opts {
		if o != nil {
			o.apply(t)
		}
	}
	return t
}

// GetAndIncrement runs the full pre-combine/combine/op/distribute
// protocol for the calling thread's stable id, returning the unique
// prior counter value assigned to this call.
func (t *Tree) GetAndIncrement(tid int) (int, error) {
	if tid < 0 || tid/2 >= len(t.leaves) {
		return 0, concore.NewError(concore.InvalidArgument, nil, "combiningtree: tid %d out of range for %d leaves", tid, len(t.leaves))
	}
	leaf := t.leaves[tid/2]

	// pre-combine (ascend)
	var stop *node
	for cur := leaf; ; {
		s, err := cur.precombine(t.id)
		if err != nil {
			return 0, err
		}
		if s != nil {
			stop = s
			break
		}
		cur = cur.parent
	}

	// combine (ascend again, strictly below the stop node)
	combined := 1
	var stack []*node
	for cur := leaf; cur != stop; cur = cur.parent {
		c, err := cur.combine(t.id, combined)
		if err != nil {
			return 0, err
		}
		combined = c
		stack = append(stack, cur)
	}

	// op at the stop node
	prior, err := stop.op(t.id, combined)
	if err != nil {
		return 0, err
	}

	// distribute (descend), LIFO order: nodes closest to the stop
	// node are popped first. Every popped node receives the same
	// prior captured above; it is never advanced.
	for i := len(stack) - 1; i >= 0; i-- {
		if err := stack[i].distribute(t.id, prior); err != nil {
			return 0, err
		}
	}
	return prior, nil
}

// Get returns the tree's current counter value without incrementing it.
func (t *Tree) Get() int {
	root := t.nodes[0]
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.result
}

// NumLeaves returns the number of leaves the tree was constructed with.
func (t *Tree) NumLeaves() int {
	return len(t.leaves)
}
