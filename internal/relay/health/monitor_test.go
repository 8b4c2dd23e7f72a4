package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeerQualityScorePerfect(t *testing.T) {
	p := NewPeer("a")
	require.Equal(t, 100, p.QualityScore())
}

func TestPeerQualityScorePenalizesLatency(t *testing.T) {
	p := NewPeer("a")
	p.RecordLatency(latencyPenaltyFloor * 2) // saturates
	require.Equal(t, 100-latencyPenaltyMax, p.QualityScore())
}

func TestPeerQualityScorePenalizesPacketLoss(t *testing.T) {
	p := NewPeer("a")
	p.PacketsSent = 10
	p.PacketsAcked = 5
	require.Equal(t, 100-lossPenaltyMax/2, p.QualityScore())
}

func TestPeerStateClassification(t *testing.T) {
	p := NewPeer("a")
	now := p.LastSeen
	require.Equal(t, StateConnected, p.State(now))
	require.Equal(t, StateStale, p.State(now.Add(StaleAfter+time.Second)))
	require.Equal(t, StateDead, p.State(now.Add(DeadAfter+time.Second)))
}

func TestMonitorHopCountBFS(t *testing.T) {
	m := NewMonitor()
	m.SetTopology("", []string{"a"})
	m.SetTopology("a", []string{"b"})

	hops, ok := m.HopCount("a")
	require.True(t, ok)
	require.Equal(t, 1, hops)

	hops, ok = m.HopCount("b")
	require.True(t, ok)
	require.Equal(t, 2, hops)

	_, ok = m.HopCount("unreachable")
	require.False(t, ok)
}

func TestMonitorHopCacheInvalidatesOnTopologyChange(t *testing.T) {
	m := NewMonitor()
	m.SetTopology("", []string{"a"})
	_, _ = m.HopCount("a") // populate cache

	m.SetTopology("", []string{"a", "b"})
	hops, ok := m.HopCount("b")
	require.True(t, ok)
	require.Equal(t, 1, hops)
}

func TestMonitorCleanupDeadRemovesDeadPeers(t *testing.T) {
	m := NewMonitor()
	p := m.Touch("dead-peer")
	p.LastSeen = time.Now().Add(-2 * DeadAfter)

	removed := m.CleanupDead()
	require.Equal(t, 1, removed)
	require.Empty(t, m.Peers())
}

func TestMonitorSnapshotAggregates(t *testing.T) {
	m := NewMonitor()
	m.Touch("healthy")
	stale := m.Touch("stale-peer")
	stale.LastSeen = time.Now().Add(-(StaleAfter + time.Second))

	snap := m.Snapshot()
	require.Equal(t, 2, snap.TotalPeers)
	require.Equal(t, 1, snap.Connected)
	require.Equal(t, 1, snap.Stale)
}

func TestMonitorSnapshotEmpty(t *testing.T) {
	m := NewMonitor()
	snap := m.Snapshot()
	require.Equal(t, 0, snap.TotalPeers)
}
