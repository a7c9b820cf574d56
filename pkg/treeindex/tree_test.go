package treeindex

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func smallFanoutConfig() Config {
	return Config{Fanout: 4}.normalized()
}

func TestInsertReadRemoveBasic(t *testing.T) {
	tr := NewWithConfig[int, string](smallFanoutConfig(), lessInt)

	require.NoError(t, tr.Insert(1, "one"))
	require.NoError(t, tr.Insert(2, "two"))

	var dup *DuplicateError[int, string]
	err := tr.Insert(1, "uno")
	require.ErrorAs(t, err, &dup)
	require.Equal(t, 1, dup.Key)

	v, ok := tr.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", v)

	require.True(t, tr.Remove(1))
	require.False(t, tr.Remove(1))

	_, ok = tr.Get(1)
	require.False(t, ok)

	require.Equal(t, 1, tr.Len())
}

func TestInsertManyCausesSplits(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, i*i))
	}
	require.Equal(t, n, tr.Len())
	require.Greater(t, tr.Depth(), 1, "500 entries at fanout 4 should need more than one level")

	for i := 0; i < n; i++ {
		v, ok := tr.Get(i)
		require.True(t, ok, "missing key %d", i)
		require.Equal(t, i*i, v)
	}
}

func TestRemoveDrainsToEmptyTree(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, i))
	}
	for i := 0; i < n; i++ {
		require.True(t, tr.Remove(i))
	}
	require.Equal(t, 0, tr.Len())
	require.Equal(t, 0, tr.Depth())

	// the tree must still accept inserts after being fully drained
	require.NoError(t, tr.Insert(1, 1))
	v, ok := tr.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestScanOrdersAscending(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)

	keys := rand.Perm(300)
	for _, k := range keys {
		require.NoError(t, tr.Insert(k, k))
	}

	s := tr.Iter()
	defer s.Close()

	prev := -1
	count := 0
	for s.Next() {
		require.Greater(t, s.Key(), prev)
		prev = s.Key()
		count++
	}
	require.Equal(t, 300, count)
}

func TestScanFromMidpoint(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)
	for i := 0; i < 100; i++ {
		require.NoError(t, tr.Insert(i, i))
	}

	s := tr.From(50)
	defer s.Close()

	require.True(t, s.Next())
	require.Equal(t, 50, s.Key())

	count := 1
	for s.Next() {
		count++
	}
	require.Equal(t, 50, count)
}

func TestClearEmptiesTree(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Insert(i, i))
	}
	tr.Clear()
	require.Equal(t, 0, tr.Len())
	_, ok := tr.Get(0)
	require.False(t, ok)
}

// TestConcurrentInsertsAllVisible exercises concurrent non-structural and
// structural writers racing against each other: N goroutines each insert a
// disjoint key range, and every key must be visible afterward with no
// duplicate-insert false negatives and no lost writes.
func TestConcurrentInsertsAllVisible(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)

	const workers = 16
	const perWorker = 200

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				key := w*perWorker + i
				if err := tr.Insert(key, key*2); err != nil {
					return fmt.Errorf("insert(%d): %w", key, err)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, workers*perWorker, tr.Len())

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := w*perWorker + i
			v, ok := tr.Get(key)
			require.True(t, ok, "missing key %d", key)
			require.Equal(t, key*2, v)
		}
	}
}

// TestConcurrentReadersDuringWrites exercises the spec's headline
// guarantee: readers never block and never observe a torn/partial
// structural state, even while writers are actively splitting nodes.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	tr := NewWithConfig[int, int](smallFanoutConfig(), lessInt)
	for i := 0; i < 200; i += 2 {
		require.NoError(t, tr.Insert(i, i))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < 200; i += 2 {
			_ = tr.Insert(i, i)
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if v, ok := tr.Get(0); ok {
				require.Equal(t, 0, v)
			}
			s := tr.Iter()
			prev := -1
			for s.Next() {
				require.Greater(t, s.Key(), prev)
				prev = s.Key()
			}
			s.Close()
		}
	}()

	wg.Wait()
	require.Equal(t, 200, tr.Len())
}

func TestDepthZeroForEmptyTree(t *testing.T) {
	tr := New[int, int]()
	require.Equal(t, 0, tr.Depth())
	require.Equal(t, 0, tr.Len())
}

func TestCloseRejectsFurtherInserts(t *testing.T) {
	tr := New[int, int]()
	require.NoError(t, tr.Insert(1, 1))
	tr.Close()
	require.ErrorIs(t, tr.Insert(2, 2), ErrClosed)
}
