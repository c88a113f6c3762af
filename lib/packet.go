package lib

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Segment is the unit exchanged between two connection endpoints. It is
// immutable once constructed; retransmission re-sends the same Segment.
type Segment struct {
	SrcAddr, DestAddr net.Addr
	SourcePort        uint16
	DestinationPort   uint16
	SequenceNumber    uint32
	AcknowledgmentNum uint32
	WindowSize        uint16 // receive window the sender of this segment advertises, in segments
	Flags             uint8
	Payload           []byte
	chunk             *rp.Element // memory chunk backing Payload, nil for control segments
}

// ValidFlags reports whether the flag set is one the engine accepts: no
// flags (plain data), a single SYN, ACK or FIN, or the SYN+ACK combination.
// Everything else is rejected at the wire codec boundary.
func ValidFlags(flags uint8) bool {
	switch flags {
	case 0, SYNFlag, ACKFlag, FINFlag, SYNFlag | ACKFlag:
		return true
	}
	return false
}

// IsSYN reports whether the segment is a plain SYN.
func (s *Segment) IsSYN() bool { return s.Flags == SYNFlag }

// IsSynAck reports whether the segment is a SYN+ACK.
func (s *Segment) IsSynAck() bool { return s.Flags == SYNFlag|ACKFlag }

// IsACK reports whether the segment is a bare acknowledgment.
func (s *Segment) IsACK() bool { return s.Flags == ACKFlag && len(s.Payload) == 0 }

// IsFIN reports whether the segment is a FIN.
func (s *Segment) IsFIN() bool { return s.Flags == FINFlag }

// IsData reports whether the segment carries application payload.
func (s *Segment) IsData() bool { return s.Flags == 0 && len(s.Payload) > 0 }

func (s *Segment) String() string {
	return fmt.Sprintf("seg(seq=%d ack=%d flags=%s len=%d)",
		s.SequenceNumber, s.AcknowledgmentNum, flagName(s.Flags), len(s.Payload))
}

func flagName(flags uint8) string {
	switch flags {
	case 0:
		return "DATA"
	case SYNFlag:
		return "SYN"
	case ACKFlag:
		return "ACK"
	case FINFlag:
		return "FIN"
	case SYNFlag | ACKFlag:
		return "SYN-ACK"
	}
	return fmt.Sprintf("0x%02x", flags)
}

// NewSegment builds an outgoing segment for the given connection. Payload
// bytes are copied into a pool chunk so that the caller's buffer can be
// reused immediately.
func NewSegment(seqNum, ackNum uint32, flags uint8, data []byte, conn *Connection) *Segment {
	newSeg := &Segment{
		SrcAddr:           conn.params.localAddr,
		DestAddr:          conn.params.remoteAddr,
		SourcePort:        uint16(conn.params.localPort),
		DestinationPort:   uint16(conn.params.remotePort),
		SequenceNumber:    seqNum,
		AcknowledgmentNum: ackNum,
		Flags:             flags,
		WindowSize:        uint16(conn.config.AdvertisedWindow),
	}
	if len(data) > 0 {
		if err := newSeg.CopyToPayload(data); err != nil {
			return nil
		}
	}
	return newSeg
}

// CopyToPayload copies src into a pool chunk and points Payload at it. When
// the pool has not been initialized (unit tests, passthrough channels) it
// falls back to a plain allocation.
func (s *Segment) CopyToPayload(src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("Segment.CopyToPayload: source slice is empty")
	}
	if Pool == nil {
		s.Payload = append([]byte(nil), src...)
		return nil
	}
	s.chunk = Pool.GetElement()
	if s.chunk == nil {
		return fmt.Errorf("Segment.CopyToPayload: got a nil chunk")
	}
	if err := s.chunk.Data.(*Payload).Copy(src); err != nil {
		s.ReturnChunk()
		return fmt.Errorf("Segment.CopyToPayload: %s", err)
	}
	s.Payload = s.chunk.Data.(*Payload).GetSlice()
	return nil
}

// ReturnChunk gives the payload chunk back to the pool. Safe to call on
// segments without one.
func (s *Segment) ReturnChunk() {
	if s.chunk != nil {
		Pool.ReturnElement(s.chunk)
		s.chunk = nil
	}
	s.Payload = nil
}

// GetChunkReference exposes the backing chunk for pool debugging.
func (s *Segment) GetChunkReference() *rp.Element {
	return s.chunk
}

// GenerateISN picks a random initial sequence number.
func GenerateISN() (uint32, error) {
	var isn uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &isn); err != nil {
		return 0, err
	}
	return isn, nil
}
