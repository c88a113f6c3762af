package lib

import (
	"log"
	"time"
)

// Codec is the wire-codec collaborator: a lossless byte (de)serialization of
// Segment fields. The engine never depends on a concrete byte layout.
type Codec interface {
	Encode(seg *Segment) ([]byte, error)
	Decode(data []byte) (*Segment, error)
}

// Channel is the in-memory link between two connection endpoints. Delivery
// is scheduled on the shared virtual clock after a one-way delay; every
// transmission is first offered to the loss oracle. With a Codec attached,
// each segment additionally round-trips through its byte encoding, proving
// the codec lossless along the way.
type Channel struct {
	clock  *VirtualClock
	oracle LossOracle
	codec  Codec // nil means in-memory passthrough
	delay  time.Duration

	a, b *Connection

	dropped int
	debug   bool
}

// NewChannel creates a channel with the given delay and loss oracle. A nil
// oracle means never-drop.
func NewChannel(clock *VirtualClock, delay time.Duration, oracle LossOracle, codec Codec) *Channel {
	if oracle == nil {
		oracle = NeverDrop{}
	}
	return &Channel{
		clock:  clock,
		oracle: oracle,
		codec:  codec,
		delay:  delay,
	}
}

// Attach wires both endpoints' outbound paths through the channel.
func (ch *Channel) Attach(a, b *Connection) {
	ch.a, ch.b = a, b
	a.params.transmit = func(seg *Segment) { ch.transmit(seg, b) }
	b.params.transmit = func(seg *Segment) { ch.transmit(seg, a) }
}

// Dropped returns the number of transmissions the oracle discarded.
func (ch *Channel) Dropped() int {
	return ch.dropped
}

func (ch *Channel) transmit(seg *Segment, dest *Connection) {
	if ch.oracle.Drop(seg.SequenceNumber) {
		ch.dropped++
		if ch.debug {
			log.Printf("channel: dropped %s", seg)
		}
		return
	}

	out := seg
	if ch.codec != nil {
		data, err := ch.codec.Encode(seg)
		if err != nil {
			log.Printf("channel: encode error, segment discarded: %v", err)
			return
		}
		out, err = ch.codec.Decode(data)
		if err != nil {
			log.Printf("channel: decode error, segment discarded: %v", err)
			return
		}
	} else if len(seg.Payload) > 0 {
		// simulate the copy a real wire would make: the receiver must
		// not alias the sender's retransmission buffer
		out = &Segment{
			SrcAddr:           seg.SrcAddr,
			DestAddr:          seg.DestAddr,
			SourcePort:        seg.SourcePort,
			DestinationPort:   seg.DestinationPort,
			SequenceNumber:    seg.SequenceNumber,
			AcknowledgmentNum: seg.AcknowledgmentNum,
			WindowSize:        seg.WindowSize,
			Flags:             seg.Flags,
		}
		if err := out.CopyToPayload(seg.Payload); err != nil {
			log.Printf("channel: payload copy failed, segment discarded: %v", err)
			return
		}
	}

	ch.clock.Schedule(ch.delay, func() {
		dest.Deliver(out)
	})
}
