package combiningtree_test

import (
	"sort"
	"testing"

	concore "github.com/joeycumines/go-concore"
	"github.com/joeycumines/go-concore/combiningtree"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	require.Panics(t, func() { combiningtree.New(3) })
	require.Panics(t, func() { combiningtree.New(0) })
}

func TestGetAndIncrementSingleThread(t *testing.T) {
	tree := combiningtree.New(4)
	for i := 0; i < 10; i++ {
		prior, err := tree.GetAndIncrement(0)
		require.NoError(t, err)
		require.Equal(t, i, prior)
	}
	require.Equal(t, 10, tree.Get())
}

func TestGetAndIncrementRejectsOutOfRangeTid(t *testing.T) {
	tree := combiningtree.New(2)
	_, err := tree.GetAndIncrement(-1)
	require.Error(t, err)
	require.True(t, concore.IsKind(err, concore.InvalidArgument))

	_, err = tree.GetAndIncrement(100)
	require.Error(t, err)
}

// TestGetAndIncrementConcurrent exercises spec.md §8 scenario 5 at a
// scale suitable for a unit test: T threads sharing leaves two at a
// time, each incrementing repeatedly, with the returned values
// forming exactly {0,...,n-1} once sorted and Get() landing on n.
func TestGetAndIncrementConcurrent(t *testing.T) {
	const numThreads = 32
	const numLeaves = numThreads / 2
	const perThread = 2000
	const n = numThreads * perThread

	tree := combiningtree.New(numLeaves)

	results := make([][]int, numThreads)
	var g errgroup.Group
	for tid := 0; tid < numThreads; tid++ {
		tid := tid
		g.Go(func() error {
			mine := make([]int, 0, perThread)
			for i := 0; i < perThread; i++ {
				prior, err := tree.GetAndIncrement(tid)
				if err != nil {
					return err
				}
				mine = append(mine, prior)
			}
			results[tid] = mine
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, n, tree.Get())

	all := make([]int, 0, n)
	for _, r := range results {
		all = append(all, r...)
	}
	sort.Ints(all)
	for i, v := range all {
		require.Equal(t, i, v)
	}
}

func TestNumLeaves(t *testing.T) {
	tree := combiningtree.New(8)
	require.Equal(t, 8, tree.NumLeaves())
}
