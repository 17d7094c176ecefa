// Package netcount implements lock-free counting networks: the
// Balancer primitive, the Merger that combines two step-sequences
// into one, and the Bitonic network built from Mergers.
//
// Every traversal is a single CAS loop over a Balancer's toggle
// (spec.md §4.5); tokens are ordered only in the weak step-property
// sense, never at a global linearization point equal to a counter.
package netcount

import (
	"sync/atomic"

	concore "github.com/joeycumines/go-concore"
	"golang.org/x/exp/constraints"
)

// IsPowerOfTwo reports whether n is a power of two, n >= 1.
func IsPowerOfTwo[T constraints.Integer](n T) bool {
	return n >= 1 && n&(n-1) == 0
}

// Balancer is a two-output toggle: successive Traverse calls
// alternate between returning 0 and 1, so that across any prefix of
// calls the two output counts differ by at most one (the step
// property).
type Balancer struct {
	toggle atomic.Bool
}

// NewBalancer creates a Balancer in its initial (next-output-is-0) state.
func NewBalancer() *Balancer {
	return &Balancer{}
}

// Traverse performs one lock-free traversal, returning 0 or 1.
func (b *Balancer) Traverse() int {
	for {
		old := b.toggle.Load()
		if b.toggle.CompareAndSwap(old, !old) {
			if old {
				return 1
			}
			return 0
		}
	}
}

// Merger combines two step-sequences of width w into one step
// sequence of width 2w: the even wires of the first input sequence and
// the odd wires of the second feed one sub-merger of width w, the
// other wires feed the second sub-merger, and output i of both
// sub-mergers meets at balancer i of a final layer of w balancers,
// whose two outputs are wires 2i and 2i+1.
type Merger struct {
	width int
	half0 *Merger
	half1 *Merger
	bal   *Balancer   // used directly when width == 2
	layer []*Balancer // width/2 balancers, used when width > 2
}

// NewMerger constructs a Merger for the given width, which must be a
// power of two >= 2. Panics with [concore.InvalidArgument] otherwise,
// per spec.md §4.5's construction contract.
func NewMerger(width int) *Merger {
	if width < 2 || !IsPowerOfTwo(width) {
		panic(concore.NewError(concore.InvalidArgument, nil, "netcount: merger width %d must be a power of two >= 2", width))
	}
	if width == 2 {
		return &Merger{width: 2, bal: NewBalancer()}
	}
	w := width / 2
	layer := make([]*Balancer, w)
	for i := range layer {
		layer[i] = NewBalancer()
	}
	return &Merger{
		width: width,
		half0: NewMerger(w),
		half1: NewMerger(w),
		layer: layer,
	}
}

// Width returns the merger's output width.
func (m *Merger) Width() int { return m.width }

// Traverse routes a token entering on wire `input` (in [0, Width()))
// through the network, returning an output wire in [0, Width()).
func (m *Merger) Traverse(input int) int {
	if m.width == 2 {
		return m.bal.Traverse()
	}
	w := m.width / 2
	half := m.half0
	if (input%2 == 0) != (input < w) {
		half = m.half1
	}
	local := half.Traverse(input / 2)
	bit := m.layer[local].Traverse()
	return 2*local + bit
}

// Bitonic is a counting network of the given width: two Bitonic(w)
// halves feed a Merger(2w), offsetting inputs per spec.md §9's noted
// (and easy to get wrong) formula input/(width/2)*(width/2).
type Bitonic struct {
	width  int
	half0  *Bitonic
	half1  *Bitonic
	merger *Merger
}

// NewBitonic constructs a Bitonic network for the given width, which
// must be a power of two >= 1. Panics with [concore.InvalidArgument]
// otherwise.
func NewBitonic(width int) *Bitonic {
	if width < 1 || !IsPowerOfTwo(width) {
		panic(concore.NewError(concore.InvalidArgument, nil, "netcount: bitonic width %d must be a power of two >= 1", width))
	}
	if width == 1 {
		return &Bitonic{width: 1}
	}
	w := width / 2
	return &Bitonic{
		width:  width,
		half0:  NewBitonic(w),
		half1:  NewBitonic(w),
		merger: NewMerger(width),
	}
}

// Width returns the network's output width.
func (b *Bitonic) Width() int { return b.width }

// Traverse routes a token entering on wire `input` (in [0, Width()))
// through the network, returning an output wire in [0, Width()).
func (b *Bitonic) Traverse(input int) int {
	if b.width == 1 {
		return 0
	}
	w := b.width / 2
	offset := input / w * w
	var local int
	if input < w {
		local = b.half0.Traverse(input)
	} else {
		local = b.half1.Traverse(input - w)
	}
	return b.merger.Traverse(local + offset)
}
