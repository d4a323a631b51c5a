package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindow_ContainsAfterInsert(t *testing.T) {
	w := New(4)
	require.False(t, w.Contains("a"), "empty window should not contain a")
	w.Insert("a")
	require.True(t, w.Contains("a"), "expected a to be tracked after insert")
}

func TestWindow_FIFOEvictionAtCapacity(t *testing.T) {
	w := New(4096)
	for i := 0; i < 4096; i++ {
		w.Insert(idFor(i))
	}
	require.True(t, w.Contains(idFor(0)), "first id should still be present before overflow")

	w.Insert(idFor(4096))
	require.False(t, w.Contains(idFor(0)), "oldest id should have been evicted on 4097th distinct insert")
	require.True(t, w.Contains(idFor(4096)), "newest id should be tracked")
	require.Equal(t, 4096, w.Len(), "window should stay at capacity")
}

func TestWindow_DuplicateInsertIsNoop(t *testing.T) {
	w := New(2)
	w.Insert("a")
	w.Insert("b")
	w.Insert("a")
	require.Equal(t, 2, w.Len(), "re-inserting a tracked id should not grow the window")
}

func idFor(i int) string {
	const letters = "0123456789abcdef"
	b := make([]byte, 8)
	for j := 7; j >= 0; j-- {
		b[j] = letters[i%16]
		i /= 16
	}
	return string(b)
}
