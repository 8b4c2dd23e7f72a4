package relay

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the only mesh envelope wire version this engine
// understands (spec.md §6).
const ProtocolVersion uint8 = 1

// envelopeHeaderSize is the fixed portion of the wire format preceding the
// variable-length data slice (offsets 0..58 in spec.md §6).
const envelopeHeaderSize = 58

// MaxFrameSize bounds a serialized envelope: header + MaxFragmentDataSize.
const MaxFrameSize = envelopeHeaderSize + MaxFragmentDataSize

// PacketType identifies what an envelope carries.
type PacketType uint8

const (
	PacketTxFragment           PacketType = 0
	PacketConfirmationFragment PacketType = 1
	PacketControl              PacketType = 2
)

// SenderID identifies the device that produced an envelope.
type SenderID [16]byte

// Envelope wraps one Fragment for mesh transit, carrying routing metadata
// that is never part of the fragment's own content hash.
type Envelope struct {
	Version      uint8
	Type         PacketType
	Sender       SenderID
	TTL          uint8
	HopCount     uint8
	Fragment     Fragment
}

// Encode serializes an Envelope to the bit-stable wire format of spec.md §6:
// fixed byte order, no padding, a u16 length prefix on the data slice.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Fragment.Data) > MaxFragmentDataSize {
		return nil, fmt.Errorf("fragment data length %d exceeds max %d", len(e.Fragment.Data), MaxFragmentDataSize)
	}

	buf := make([]byte, envelopeHeaderSize+len(e.Fragment.Data))
	buf[0] = e.Version
	buf[1] = byte(e.Type)
	copy(buf[2:18], e.Sender[:])
	buf[18] = e.TTL
	buf[19] = e.HopCount
	copy(buf[20:52], e.Fragment.TxID[:])
	binary.BigEndian.PutUint16(buf[52:54], e.Fragment.Index)
	binary.BigEndian.PutUint16(buf[54:56], e.Fragment.Total)
	binary.BigEndian.PutUint16(buf[56:58], uint16(len(e.Fragment.Data)))
	copy(buf[58:], e.Fragment.Data)
	return buf, nil
}

// Decode parses a wire frame into an Envelope. Rejects unknown protocol
// versions with ErrUnsupportedVersion and truncated/inconsistent frames
// with ErrMalformedEnvelope.
func Decode(frame []byte) (*Envelope, error) {
	if len(frame) < envelopeHeaderSize {
		return nil, Wrap(ErrMalformedEnvelope, fmt.Errorf("frame length %d below header size %d", len(frame), envelopeHeaderSize))
	}

	version := frame[0]
	if version != ProtocolVersion {
		return nil, Wrap(ErrUnsupportedVersion, fmt.Errorf("protocol version %d", version))
	}

	dataLength := binary.BigEndian.Uint16(frame[56:58])
	if envelopeHeaderSize+int(dataLength) != len(frame) {
		return nil, Wrap(ErrMalformedEnvelope, fmt.Errorf("data_length %d does not match frame size %d", dataLength, len(frame)))
	}

	env := &Envelope{
		Version:  version,
		Type:     PacketType(frame[1]),
		TTL:      frame[18],
		HopCount: frame[19],
	}
	copy(env.Sender[:], frame[2:18])
	copy(env.Fragment.TxID[:], frame[20:52])
	env.Fragment.Index = binary.BigEndian.Uint16(frame[52:54])
	env.Fragment.Total = binary.BigEndian.Uint16(frame[54:56])
	env.Fragment.Data = append([]byte(nil), frame[58:]...)

	return env, nil
}

// Relay decrements TTL and increments hop count in place for forwarding.
// Returns false when the post-decrement TTL reaches zero, meaning the
// envelope must be dropped rather than re-transmitted.
func (e *Envelope) Relay() bool {
	if e.TTL == 0 {
		return false
	}
	e.TTL--
	e.HopCount++
	return e.TTL > 0
}

// seenKey is the dedup key of spec.md §4.B: (sender, tx id, fragment index).
type seenKey struct {
	sender SenderID
	txID   TxID
	index  uint16
}
