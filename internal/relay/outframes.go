package relay

import "sync"

// outFrameStream is the single prioritized stream next_outbound pulls from:
// new outbound fragments, then confirmation fragments, then relayed
// forwards (spec.md §4.K). The worker populates the first two lanes as it
// drains the outbound and confirmation queues; PushInbound populates the
// third as it forwards envelopes from other peers.
type outFrameStream struct {
	mu          sync.Mutex
	outbound    [][]byte
	confirmation [][]byte
	relayed     [][]byte
}

func newOutFrameStream() *outFrameStream {
	return &outFrameStream{}
}

func (s *outFrameStream) pushOutbound(frame []byte)     { s.push(&s.outbound, frame) }
func (s *outFrameStream) pushConfirmation(frame []byte) { s.push(&s.confirmation, frame) }
func (s *outFrameStream) pushRelayed(frame []byte)      { s.push(&s.relayed, frame) }

func (s *outFrameStream) push(lane *[][]byte, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*lane = append(*lane, frame)
}

// pop returns and removes the next frame in priority order, or nil if every
// lane is empty.
func (s *outFrameStream) pop() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lane := range []*[][]byte{&s.outbound, &s.confirmation, &s.relayed} {
		if len(*lane) > 0 {
			frame := (*lane)[0]
			*lane = (*lane)[1:]
			return frame
		}
	}
	return nil
}

func (s *outFrameStream) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound) + len(s.confirmation) + len(s.relayed)
}
