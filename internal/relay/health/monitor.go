package health

import (
	"sync"
	"time"
)

// Snapshot is the aggregate mesh health view of spec.md §4.L.
type Snapshot struct {
	TotalPeers      int
	Connected       int
	Stale           int
	Dead            int
	AverageLatency  time.Duration
	AveragePacketLoss float64
	OverallScore    int
}

// Monitor is the per-peer table plus topology cache of component L.
type Monitor struct {
	mu    sync.RWMutex
	peers map[string]*Peer

	// topology maps a peer id to the set of peer ids it is directly
	// connected to, as reported by the host's mesh-discovery layer.
	topology map[string]map[string]struct{}

	// hopCache memoizes BFS hop counts from the local node (key "") to every
	// reachable peer; invalidated whenever topology changes.
	hopCache map[string]int
}

// NewMonitor constructs an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		peers:    make(map[string]*Peer),
		topology: make(map[string]map[string]struct{}),
	}
}

// Touch records that id was just seen, creating its Peer record if absent.
func (m *Monitor) Touch(id string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		p = NewPeer(id)
		m.peers[id] = p
	}
	p.LastSeen = time.Now()
	return p
}

// RecordLatency attaches an RTT sample to id, creating it if absent.
func (m *Monitor) RecordLatency(id string, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		p = NewPeer(id)
		m.peers[id] = p
	}
	p.RecordLatency(rtt)
}

// RecordSend increments id's sent (and, if acked, acked) counters.
func (m *Monitor) RecordSend(id string, acked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		p = NewPeer(id)
		m.peers[id] = p
	}
	p.PacketsSent++
	if acked {
		p.PacketsAcked++
	} else {
		p.TransmitFailed++
	}
}

// SetTopology replaces the directly-connected-peer set for id and
// invalidates the hop-count cache.
func (m *Monitor) SetTopology(id string, connectedTo []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(connectedTo))
	for _, peer := range connectedTo {
		set[peer] = struct{}{}
	}
	m.topology[id] = set
	m.hopCache = nil
}

// HopCount returns the BFS hop distance from the local node ("") to id,
// computing and caching the full BFS tree on first use after invalidation.
// Returns (0, false) if id is unreachable.
func (m *Monitor) HopCount(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hopCache == nil {
		m.hopCache = m.bfsLocked()
	}
	hops, ok := m.hopCache[id]
	return hops, ok
}

func (m *Monitor) bfsLocked() map[string]int {
	const root = ""
	result := map[string]int{root: 0}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for neighbor := range m.topology[cur] {
			if _, seen := result[neighbor]; seen {
				continue
			}
			result[neighbor] = result[cur] + 1
			queue = append(queue, neighbor)
		}
	}
	delete(result, root)
	return result
}

// CleanupDead removes every peer classified dead, returning the count
// removed. Called by the worker on EventCleanupDue.
func (m *Monitor) CleanupDead() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, p := range m.peers {
		if p.State(now) == StateDead {
			delete(m.peers, id)
			delete(m.topology, id)
			removed++
		}
	}
	if removed > 0 {
		m.hopCache = nil
	}
	return removed
}

// Snapshot computes the aggregate view of spec.md §4.L.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	snap := Snapshot{TotalPeers: len(m.peers)}
	if len(m.peers) == 0 {
		return snap
	}

	var totalLatency time.Duration
	var totalLoss float64
	var totalScore int
	for _, p := range m.peers {
		switch p.State(now) {
		case StateConnected:
			snap.Connected++
		case StateStale:
			snap.Stale++
		case StateDead:
			snap.Dead++
		}
		totalLatency += p.AverageLatency()
		totalLoss += p.PacketLossRatio()
		totalScore += p.QualityScore()
	}

	n := len(m.peers)
	snap.AverageLatency = totalLatency / time.Duration(n)
	snap.AveragePacketLoss = totalLoss / float64(n)
	snap.OverallScore = totalScore / n
	return snap
}

// Peers returns a snapshot slice of all tracked peers, for the FFI surface.
func (m *Monitor) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}
