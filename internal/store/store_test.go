package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-watcher/internal/gtfs"
)

func snap(ids ...string) gtfs.Snapshot {
	s := make(gtfs.Snapshot, len(ids))
	for _, id := range ids {
		s[id] = gtfs.VehiclePosition{EntityID: id, PositionUpdatedAt: time.Unix(1700000000, 0)}
	}
	return s
}

func TestReplaceSnapshotReturnsPrevious(t *testing.T) {
	st := New()
	assert.Empty(t, st.Current())
	assert.True(t, st.LastReplacedAt().IsZero())

	first := snap("A", "B")
	prev := st.ReplaceSnapshot(first)
	assert.Empty(t, prev)
	assert.Equal(t, first, st.Current())
	assert.False(t, st.LastReplacedAt().IsZero())

	second := snap("B", "C")
	prev = st.ReplaceSnapshot(second)
	assert.Equal(t, first, prev)
	assert.Equal(t, second, st.Current())
}

func TestGet(t *testing.T) {
	st := New()
	st.ReplaceSnapshot(snap("A"))

	v, ok := st.Get("A")
	require.True(t, ok)
	assert.Equal(t, "A", v.EntityID)

	_, ok = st.Get("missing")
	assert.False(t, ok)
}

func TestNilSnapshotBecomesEmpty(t *testing.T) {
	st := New()
	st.ReplaceSnapshot(snap("A"))
	prev := st.ReplaceSnapshot(nil)
	assert.Len(t, prev, 1)
	assert.NotNil(t, st.Current())
	assert.Empty(t, st.Current())
}

// Readers racing a writer must always observe a complete snapshot, never a
// partially filled map.
func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	st := New()
	st.ReplaceSnapshot(snap("A", "B"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur := st.Current()
				// Every snapshot ever installed has exactly two entries.
				assert.Len(t, cur, 2)
			}
		}()
	}
	for i := 0; i < 500; i++ {
		st.ReplaceSnapshot(snap("A", "B"))
	}
	close(stop)
	wg.Wait()
}
