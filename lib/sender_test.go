package lib

import (
	"testing"
)

// establishedSender returns a connected pair with a wide receive window so
// the congestion window is the only sending limit.
func establishedSender(t *testing.T, cwnd int) *testLink {
	t.Helper()
	link := newTestLink(t, func(cfg *ConnectionConfig) {
		cfg.AdvertisedWindow = 64
		cfg.InitialCwnd = cwnd
	})
	link.establish()
	return link
}

func TestCumulativeAckRemovesAllCovered(t *testing.T) {
	link := establishedSender(t, 8)
	w := link.client.snd

	for _, p := range []string{"a", "b", "c", "d"} {
		link.client.Send([]byte(p))
	}
	base := w.base
	if got := w.inFlight(); got != 4 {
		t.Fatalf("inFlight = %d, want 4", got)
	}

	// one cumulative ACK covering the first three segments
	acked := w.onAck(SeqIncrementBy(base, 3))

	if acked != 3 {
		t.Errorf("onAck returned %d, want 3", acked)
	}
	if got := w.inFlight(); got != 1 {
		t.Errorf("inFlight after ack = %d, want 1", got)
	}
	for i := uint32(0); i < 3; i++ {
		if _, ok := w.pending[SeqIncrementBy(base, i)]; ok {
			t.Errorf("segment %d still pending after cumulative ack", i)
		}
	}
	if _, ok := w.pending[SeqIncrementBy(base, 3)]; !ok {
		t.Error("unacked fourth segment was removed")
	}

	// the cancelled deadlines never fire: at the original RTO only the
	// still-pending fourth segment is retransmitted
	link.clock.Advance(link.client.config.RtoInitial)
	if got := link.client.Stats().Retransmissions; got != 1 {
		t.Errorf("retransmissions = %d, want only the still-pending fourth segment", got)
	}
}

func TestStaleAckIgnored(t *testing.T) {
	link := establishedSender(t, 8)
	w := link.client.snd

	link.client.Send([]byte("x"))
	link.client.Send([]byte("y"))
	base := w.base
	w.onAck(SeqIncrementBy(base, 2))

	// an older cumulative point must not move the window back
	if got := w.onAck(SeqIncrementBy(base, 1)); got != 0 {
		t.Errorf("stale ack acked %d segments, want 0", got)
	}
	if w.base != SeqIncrementBy(base, 2) {
		t.Errorf("base = %d, want unchanged %d", w.base, SeqIncrementBy(base, 2))
	}
}

func TestAckBeyondNextIgnored(t *testing.T) {
	link := establishedSender(t, 8)
	w := link.client.snd

	link.client.Send([]byte("x"))
	base := w.base

	if got := w.onAck(SeqIncrementBy(base, 50)); got != 0 {
		t.Errorf("ack beyond next acked %d segments, want 0", got)
	}
	if w.base != base {
		t.Errorf("base = %d, want unchanged %d", w.base, base)
	}
	if _, ok := w.pending[base]; !ok {
		t.Error("pending segment removed by an ack for never-sent data")
	}
}

func TestDuplicateAcksDoNotMoveWindow(t *testing.T) {
	link := establishedSender(t, 8)
	w := link.client.snd

	link.client.Send([]byte("x"))
	link.client.Send([]byte("y"))
	base := w.base

	for i := 0; i < 3; i++ {
		w.onAck(base)
	}

	if w.base != base {
		t.Errorf("base moved on duplicate acks: %d -> %d", base, w.base)
	}
	if got := link.client.Stats().DuplicateAcks; got != 3 {
		t.Errorf("duplicate ack count = %d, want 3", got)
	}
	// fast retransmit is off by default: duplicates are counted, nothing
	// is resent
	if got := link.client.Stats().Retransmissions; got != 0 {
		t.Errorf("retransmissions = %d, want 0", got)
	}
}

func TestWindowFullQueuesPayloads(t *testing.T) {
	link := newTestLink(t, func(cfg *ConnectionConfig) {
		cfg.AdvertisedWindow = 2
		cfg.InitialCwnd = 8
	})
	link.establish()
	w := link.client.snd

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		link.client.Send([]byte(p))
	}

	if got := w.inFlight(); got != 2 {
		t.Errorf("inFlight = %d, want cwnd limit 2", got)
	}
	if got := len(w.queue); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
	if got := len(link.sent[link.client]); got != 2 {
		t.Errorf("transmitted = %d, want 2", got)
	}

	// acknowledging one opens one admission slot
	w.onAck(SeqIncrementBy(w.base, 1))
	if got := w.inFlight(); got != 2 {
		t.Errorf("inFlight after ack = %d, want refilled to 2", got)
	}
	if got := len(w.queue); got != 2 {
		t.Errorf("queued after ack = %d, want 2", got)
	}
}

func TestAdvertisedWindowCapsSending(t *testing.T) {
	link := newTestLink(t, func(cfg *ConnectionConfig) {
		cfg.AdvertisedWindow = 2
		cfg.InitialCwnd = 8
	})
	link.establish()
	w := link.client.snd

	for i := 0; i < 5; i++ {
		link.client.Send([]byte{byte('a' + i)})
	}
	if got := w.inFlight(); got != 2 {
		t.Errorf("inFlight = %d, want advertised limit 2", got)
	}
}

func TestQueueDrainsInOrder(t *testing.T) {
	link := establishedSender(t, 1)
	w := link.client.snd

	for _, p := range []string{"1", "2", "3"} {
		link.client.Send([]byte(p))
	}
	link.shuttle()

	if got := w.inFlight(); got != 0 {
		t.Errorf("inFlight after drain = %d, want 0", got)
	}
	for _, want := range []string{"1", "2", "3"} {
		got, ok := link.server.Receive()
		if !ok || string(got) != want {
			t.Fatalf("server Receive = %q, %t, want %q", got, ok, want)
		}
	}
}

func TestFinAckedOnlyWhenFinCovered(t *testing.T) {
	link := establishedSender(t, 8)
	w := link.client.snd

	link.client.Send([]byte("tail"))
	link.client.Close()

	dataSeq := w.base
	if w.finAcked() {
		t.Fatal("finAcked before any ack")
	}
	w.onAck(SeqIncrementBy(dataSeq, 1)) // covers the payload only
	if w.finAcked() {
		t.Error("finAcked although only the payload is covered")
	}
	w.onAck(SeqIncrementBy(dataSeq, 2)) // covers the FIN
	if !w.finAcked() {
		t.Error("finAcked false after the FIN was covered")
	}
}
