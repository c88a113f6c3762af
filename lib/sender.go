package lib

import (
	"log"
	"time"
)

// pendingSegment is a transmitted segment awaiting acknowledgment, bound to
// exactly one live retransmission deadline at a time.
type pendingSegment struct {
	segment     *Segment
	sentAt      time.Time // virtual send time of the most recent transmission
	deadline    *Deadline
	resendCount int
}

// queuedItem is a payload (or the FIN marker) admitted by Send/Close but
// still waiting for window space.
type queuedItem struct {
	payload []byte
	fin     bool
}

// sendWindow is the sliding-window sender of one connection. Everything here
// runs under the connection's lock. base is the oldest unacknowledged
// sequence, next the next sequence to assign; at all times
// next - base <= min(advertised, cwnd) holds for armed senders.
type sendWindow struct {
	conn *Connection

	base       uint32
	next       uint32
	advertised int

	pending map[uint32]*pendingSegment
	queue   []queuedItem

	armed bool // set when the connection reaches ESTABLISHED

	finSeq     uint32 // sequence consumed by our FIN, valid once finOffered
	finOffered bool

	// duplicate ACK bookkeeping
	dupAcks int

	// round-trip epoch for the congestion controller: the current round
	// completes when base reaches roundEnd
	roundEnd    uint32
	roundActive bool
}

func newSendWindow(conn *Connection, isn uint32, advertised int) *sendWindow {
	return &sendWindow{
		conn:       conn,
		base:       isn,
		next:       isn,
		advertised: advertised,
		pending:    make(map[uint32]*pendingSegment),
	}
}

// inFlight returns the number of unacknowledged sequence numbers.
func (w *sendWindow) inFlight() int {
	return int(seqDistance(w.base, w.next))
}

// windowLimit is the effective cap on in-flight segments.
func (w *sendWindow) windowLimit() int {
	limit := w.advertised
	if cwnd := w.conn.cc.Cwnd(); cwnd < limit {
		limit = cwnd
	}
	return limit
}

// canAdmit reports whether one more segment fits the window.
func (w *sendWindow) canAdmit() bool {
	return w.inFlight() < w.windowLimit()
}

// offer admits payload if the window allows, assigning the next sequence
// number and registering the retransmission deadline. A full window queues
// the payload instead of dropping it.
func (w *sendWindow) offer(payload []byte) {
	if len(w.queue) > 0 || !w.canAdmit() {
		w.queue = append(w.queue, queuedItem{payload: payload})
		return
	}
	w.admit(queuedItem{payload: payload})
}

// offerFin appends the FIN behind any queued payloads so its sequence number
// is the connection's highest.
func (w *sendWindow) offerFin() {
	if len(w.queue) > 0 || !w.canAdmit() {
		w.queue = append(w.queue, queuedItem{fin: true})
		return
	}
	w.admit(queuedItem{fin: true})
}

// admit assigns a sequence number, constructs the segment and transmits it.
// A failed segment build (pool exhaustion) re-queues the item instead of
// sending; the next acknowledgment returns chunks and retries it.
func (w *sendWindow) admit(item queuedItem) bool {
	seq := w.next

	var seg *Segment
	if item.fin {
		seg = NewSegment(seq, w.conn.rcvNext, FINFlag, nil, w.conn)
	} else {
		seg = NewSegment(seq, w.conn.rcvNext, 0, item.payload, w.conn)
	}
	if seg == nil {
		log.Printf("connection %s: no pool chunk for seq %d, re-queued", w.conn.params.key, seq)
		w.queue = append([]queuedItem{item}, w.queue...)
		return false
	}

	w.next = SeqIncrement(w.next)
	if item.fin {
		w.finSeq = seq
		w.finOffered = true
	}

	w.track(seq, seg)
	w.conn.transmitSegment(seg, false)

	if w.armed && !w.roundActive {
		w.roundActive = true
		w.roundEnd = w.next
	}
	return true
}

// trackControl registers an already-built handshake segment (SYN or SYN+ACK)
// for retransmission. Control segments consume one sequence number and ride
// the same deadline machinery as data but do not feed the congestion
// controller.
func (w *sendWindow) trackControl(seg *Segment) {
	w.next = SeqIncrement(seg.SequenceNumber)
	w.track(seg.SequenceNumber, seg)
}

// track registers seg as pending and arms its retransmission deadline.
func (w *sendWindow) track(seq uint32, seg *Segment) {
	ps := &pendingSegment{
		segment: seg,
		sentAt:  w.conn.clock.Now(),
	}
	ps.deadline = w.conn.clock.Schedule(w.conn.rto.RTO(), func() {
		w.conn.onDeadlineExpired(seq)
	})
	w.pending[seq] = ps
}

// onAck processes a cumulative acknowledgment. All pending segments with
// sequence < ack are removed, their deadlines cancelled, clean samples fed
// to the RTO estimator and the count reported to the congestion controller.
// Returns the number of newly acknowledged segments.
func (w *sendWindow) onAck(ack uint32) int {
	if !isGreater(ack, w.base) {
		// duplicate or stale cumulative ACK: window unchanged
		if ack == w.base && w.inFlight() > 0 {
			w.dupAcks++
			w.conn.stats.DuplicateAcks++
			if w.conn.config.FastRetransmit && w.dupAcks >= w.conn.config.DupAckThreshold {
				w.dupAcks = 0
				w.earlyRetransmit()
			}
		}
		return 0
	}
	if isGreater(ack, w.next) {
		// acknowledges sequences never sent; ignore
		return 0
	}

	now := w.conn.clock.Now()
	acked := 0
	for seq := w.base; isLess(seq, ack); seq = SeqIncrement(seq) {
		ps, ok := w.pending[seq]
		if !ok {
			continue
		}
		ps.deadline.Cancel()
		if ps.resendCount == 0 {
			// Karn: only segments never retransmitted yield samples
			w.conn.rto.AddSample(now.Sub(ps.sentAt))
		}
		ps.segment.ReturnChunk()
		delete(w.pending, seq)
		acked++
	}
	w.base = ack
	w.dupAcks = 0
	// the window moved, so the path is alive again: any timeout backoff on
	// the RTO must not outlive the loss episode that caused it
	w.conn.rto.OnProgress()

	if w.armed {
		w.conn.cc.OnAck(acked)
		if w.roundActive && isGreaterOrEqual(w.base, w.roundEnd) {
			// later ACKs from the same flight must not complete
			// further rounds; the next admission opens the next one
			w.conn.cc.OnRoundTrip()
			w.roundActive = false
		}
	}

	w.flushQueue()
	return acked
}

// onLossDetected retransmits the identical segment (same sequence number,
// no window capacity consumed) and reports the loss to the congestion
// controller, which halves ssthresh and restarts cwnd at the new threshold.
// Invoked by the retransmission timer and by fast retransmit.
func (w *sendWindow) onLossDetected(seq uint32, reportLoss bool) {
	ps, ok := w.pending[seq]
	if !ok {
		return
	}
	ps.resendCount++
	ps.sentAt = w.conn.clock.Now()
	ps.deadline = w.conn.clock.Schedule(w.conn.rto.RTO(), func() {
		w.conn.onDeadlineExpired(seq)
	})
	if reportLoss && w.armed {
		w.conn.cc.OnLoss()
		w.conn.cc.FastRecovery()
	}
	w.conn.stats.Retransmissions++
	w.conn.transmitSegment(ps.segment, true)
}

// earlyRetransmit resends the oldest unacknowledged segment in response to
// repeated duplicate ACKs, without waiting for its deadline.
func (w *sendWindow) earlyRetransmit() {
	ps, ok := w.pending[w.base]
	if !ok {
		return
	}
	ps.deadline.Cancel()
	w.onLossDetected(w.base, true)
}

// flushQueue admits queued payloads (and finally the FIN) while window space
// is available.
func (w *sendWindow) flushQueue() {
	for len(w.queue) > 0 && w.canAdmit() {
		item := w.queue[0]
		w.queue = w.queue[1:]
		if !w.admit(item) {
			return
		}
	}
}

// finAcked reports whether our FIN has been offered and fully acknowledged.
func (w *sendWindow) finAcked() bool {
	return w.finOffered && isGreater(w.base, w.finSeq)
}

// releaseAll cancels every armed deadline and returns the payload chunks of
// all pending segments. Called when the connection reaches CLOSED.
func (w *sendWindow) releaseAll() {
	for seq, ps := range w.pending {
		ps.deadline.Cancel()
		ps.segment.ReturnChunk()
		delete(w.pending, seq)
	}
	w.queue = nil
	w.roundActive = false
}
