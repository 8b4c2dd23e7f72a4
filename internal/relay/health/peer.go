// Package health implements component L, per-peer quality scoring and the
// aggregate mesh health snapshot (spec.md §4.L).
package health

import "time"

// State is a peer's connectivity classification.
type State int

const (
	StateConnected State = iota
	StateStale
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// StaleAfter and DeadAfter are the last-seen age thresholds of spec.md §4.L.
const (
	StaleAfter = 30 * time.Second
	DeadAfter  = 120 * time.Second
)

// latencyWindowSize is the size of the rolling RTT window.
const latencyWindowSize = 10

// Peer is one entry in the health monitor's per-peer table.
type Peer struct {
	ID       string
	LastSeen time.Time

	latencies    [latencyWindowSize]time.Duration
	latencyCount int
	latencyNext  int

	SignalStrength int // platform-reported, e.g. RSSI in dBm (higher is better)

	PacketsSent    uint64
	PacketsAcked   uint64
	TransmitFailed uint64
}

// NewPeer constructs a Peer first seen now.
func NewPeer(id string) *Peer {
	return &Peer{ID: id, LastSeen: time.Now()}
}

// RecordLatency pushes rtt into the rolling window, evicting the oldest
// sample once full.
func (p *Peer) RecordLatency(rtt time.Duration) {
	p.latencies[p.latencyNext] = rtt
	p.latencyNext = (p.latencyNext + 1) % latencyWindowSize
	if p.latencyCount < latencyWindowSize {
		p.latencyCount++
	}
}

// AverageLatency returns the mean of the rolling window, or 0 if empty.
func (p *Peer) AverageLatency() time.Duration {
	if p.latencyCount == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < p.latencyCount; i++ {
		total += p.latencies[i]
	}
	return total / time.Duration(p.latencyCount)
}

// PacketLossRatio returns the fraction of sent packets that were never
// acked, in [0, 1].
func (p *Peer) PacketLossRatio() float64 {
	if p.PacketsSent == 0 {
		return 0
	}
	lost := p.PacketsSent - p.PacketsAcked
	return float64(lost) / float64(p.PacketsSent)
}

// State classifies the peer by how long ago it was last seen.
func (p *Peer) State(now time.Time) State {
	age := now.Sub(p.LastSeen)
	switch {
	case age > DeadAfter:
		return StateDead
	case age > StaleAfter:
		return StateStale
	default:
		return StateConnected
	}
}

// latencyPenaltyMax, signalPenaltyMax, and lossPenaltyMax are the maximum
// point deductions from a perfect 100 quality score (spec.md §4.L).
const (
	latencyPenaltyMax = 30
	signalPenaltyMax  = 30
	lossPenaltyMax    = 40

	// latencyPenaltyFloor is the RTT at or above which the latency penalty
	// saturates at latencyPenaltyMax.
	latencyPenaltyFloor = 2 * time.Second

	// signalPenaltyFloor is the RSSI (dBm) at or below which the signal
	// penalty saturates at signalPenaltyMax. Typical BLE RSSI ranges from
	// about -30 (excellent) to -100 (unusable).
	signalPenaltyFloor = -100
	signalPenaltyCeil  = -40
)

// QualityScore computes the 0-100 score of spec.md §4.L: start at 100,
// subtract up to 30 for latency, up to 30 for signal, up to 40 for packet
// loss.
func (p *Peer) QualityScore() int {
	score := 100

	latency := p.AverageLatency()
	if latency > 0 {
		frac := float64(latency) / float64(latencyPenaltyFloor)
		if frac > 1 {
			frac = 1
		}
		score -= int(frac * latencyPenaltyMax)
	}

	if p.SignalStrength != 0 {
		frac := float64(signalPenaltyCeil-p.SignalStrength) / float64(signalPenaltyCeil-signalPenaltyFloor)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		score -= int(frac * signalPenaltyMax)
	}

	score -= int(p.PacketLossRatio() * lossPenaltyMax)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
