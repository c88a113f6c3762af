package lib

import (
	"fmt"
	"time"
)

// EventKind enumerates the discrete observability events a connection emits.
type EventKind uint8

const (
	EventStateChange EventKind = iota
	EventSegmentSent
	EventSegmentReceived
	EventTimerFired
	EventRequestRejected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state-change"
	case EventSegmentSent:
		return "segment-sent"
	case EventSegmentReceived:
		return "segment-received"
	case EventTimerFired:
		return "timer-fired"
	case EventRequestRejected:
		return "request-rejected"
	}
	return "unknown"
}

// Event is one entry of a connection's event log. Only the fields relevant
// to the kind are populated.
type Event struct {
	Kind    EventKind
	Time    time.Time // virtual time at which the event occurred
	From    State     // state-change, request-rejected
	To      State     // state-change
	Trigger string    // what caused the event
	Seq     uint32    // segment-sent/received, timer-fired
	Ack     uint32    // segment-sent/received
	Flags   uint8     // segment-sent/received
	Retx    bool      // segment-sent: this is a retransmission
}

func (e Event) String() string {
	switch e.Kind {
	case EventStateChange:
		return fmt.Sprintf("%s: %s -> %s (%s)", e.Kind, e.From, e.To, e.Trigger)
	case EventRequestRejected:
		return fmt.Sprintf("%s: %s in state %s", e.Kind, e.Trigger, e.From)
	case EventTimerFired:
		return fmt.Sprintf("%s: seq=%d (%s)", e.Kind, e.Seq, e.Trigger)
	}
	return fmt.Sprintf("%s: seq=%d ack=%d flags=%s", e.Kind, e.Seq, e.Ack, flagName(e.Flags))
}

// eventLog accumulates events for inspection by tests and observers. It is
// only touched under the owning connection's lock.
type eventLog struct {
	events []Event
	notify func(Event) // optional observer callback
}

func (l *eventLog) record(ev Event) {
	l.events = append(l.events, ev)
	if l.notify != nil {
		l.notify(ev)
	}
}

// Stats are the end-of-connection statistics required from the engine:
// retransmission count, RTT extremes and average over all samples, and the
// final retransmission timeout.
type Stats struct {
	SegmentsSent     int
	SegmentsReceived int
	Retransmissions  int
	DuplicateAcks    int
	RttSamples       int
	MinRTT           time.Duration
	MaxRTT           time.Duration
	AvgRTT           time.Duration
	FinalRTO         time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("sent=%d received=%d retx=%d dupAcks=%d rttSamples=%d minRTT=%v avgRTT=%v maxRTT=%v finalRTO=%v",
		s.SegmentsSent, s.SegmentsReceived, s.Retransmissions, s.DuplicateAcks,
		s.RttSamples, s.MinRTT, s.AvgRTT, s.MaxRTT, s.FinalRTO)
}
