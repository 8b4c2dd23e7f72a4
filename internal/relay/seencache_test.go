package relay

import (
	"container/list"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenCacheRecordAndSeen(t *testing.T) {
	c := NewSeenCache()
	env := testEnvelope([]byte("dedup me"))

	require.False(t, c.Seen(env))
	require.True(t, c.Record(env))
	require.True(t, c.Seen(env))
	require.False(t, c.Record(env)) // already present
	require.Equal(t, 1, c.Len())
}

func TestSeenCacheEvictsOldestAtCapacity(t *testing.T) {
	c := &SeenCache{capacity: 2, order: list.New(), index: make(map[seenKey]*list.Element)}

	first := testEnvelope([]byte("one"))
	second := testEnvelope([]byte("two"))
	third := testEnvelope([]byte("three"))

	require.True(t, c.Record(first))
	require.True(t, c.Record(second))
	require.True(t, c.Record(third)) // evicts first

	require.False(t, c.Seen(first))
	require.True(t, c.Seen(second))
	require.True(t, c.Seen(third))
	require.Equal(t, 2, c.Len())
}
