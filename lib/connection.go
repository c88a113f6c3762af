package lib

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/FoCDoT-Tech/protocols-sub003/config"
)

// ErrInvalidStateTransition is the caller-visible rejection for an open,
// send or close request arriving in a state with no defined transition.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// ErrPayloadTooLarge is the caller-visible rejection for a payload that does
// not fit one segment's pool chunk.
var ErrPayloadTooLarge = errors.New("payload exceeds segment capacity")

// ConnectionConfig carries the per-connection tunables.
type ConnectionConfig struct {
	AdvertisedWindow int
	InitialCwnd      int
	InitialSsthresh  int

	RtoInitial      time.Duration
	RtoMin          time.Duration
	RtoMax          time.Duration
	TimeWaitTimeout time.Duration

	SlowStartPerAck bool
	FastRetransmit  bool
	DupAckThreshold int

	Debug bool

	// ISN supplies initial sequence numbers; nil draws random ones.
	// Tests inject fixed values here for reproducibility.
	ISN func() (uint32, error)
}

// DefaultConnectionConfig returns the built-in per-connection defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		AdvertisedWindow: defaultAdvertisedWindow,
		InitialCwnd:      defaultInitialCwnd,
		InitialSsthresh:  defaultInitialSsthresh,
		RtoInitial:       time.Second,
		RtoMin:           time.Second,
		RtoMax:           60 * time.Second,
		TimeWaitTimeout:  2 * time.Second,
		DupAckThreshold:  3,
	}
}

// NewConnectionConfig derives a per-connection config from the application
// configuration file.
func NewConnectionConfig(appConfig *config.Config) *ConnectionConfig {
	return &ConnectionConfig{
		AdvertisedWindow: appConfig.AdvertisedWindow,
		InitialCwnd:      appConfig.InitialCwnd,
		InitialSsthresh:  appConfig.InitialSsthresh,
		RtoInitial:       time.Duration(appConfig.RtoInitial) * time.Millisecond,
		RtoMin:           time.Duration(appConfig.RtoMin) * time.Millisecond,
		RtoMax:           time.Duration(appConfig.RtoMax) * time.Millisecond,
		TimeWaitTimeout:  time.Duration(appConfig.TimeWaitTimeout) * time.Millisecond,
		SlowStartPerAck:  appConfig.SlowStartPerAck,
		FastRetransmit:   appConfig.FastRetransmit,
		DupAckThreshold:  appConfig.DupAckThreshold,
		Debug:            appConfig.Debug,
	}
}

// connectionParams is the static identity and plumbing of one connection.
type connectionParams struct {
	key                   string
	localAddr, remoteAddr net.Addr
	localPort, remotePort int
	transmit              func(*Segment)    // outbound segment sink (wire codec / channel)
	onClosed              func(*Connection) // parent notification when CLOSED is reached
}

// Connection is one endpoint of the simulated reliable transport. All
// mutations of its window, congestion and RTO state happen under mu, so the
// whole event-dispatch step is serialized per connection; independent
// connections share nothing mutable.
type Connection struct {
	params *connectionParams
	config *ConnectionConfig
	clock  *VirtualClock

	mu    sync.Mutex
	state State

	snd *sendWindow
	cc  *CongestionController
	rto *RtoEstimator

	initialSeq     uint32 // our ISN
	initialPeerSeq uint32
	rcvNext        uint32   // next expected peer sequence number
	rcvQueue       [][]byte // in-order application payloads, allocated on open

	timeWaitDeadline *Deadline
	isClosed         bool // resources released, terminal

	events eventLog
	stats  Stats
}

func newConnection(params *connectionParams, connConfig *ConnectionConfig, clock *VirtualClock) (*Connection, error) {
	if clock == nil {
		return nil, fmt.Errorf("connection %s: nil clock", params.key)
	}
	if connConfig == nil {
		connConfig = DefaultConnectionConfig()
	}
	conn := &Connection{
		params: params,
		config: connConfig,
		clock:  clock,
		state:  StateClosed,
		cc:     NewCongestionController(connConfig.InitialCwnd, connConfig.InitialSsthresh, connConfig.SlowStartPerAck),
		rto:    NewRtoEstimator(connConfig.RtoInitial, connConfig.RtoMin, connConfig.RtoMax),
	}
	conn.snd = newSendWindow(conn, 0, connConfig.AdvertisedWindow)
	return conn, nil
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsClosed reports whether the connection reached terminal CLOSED and
// released its resources.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// Key returns the connection's identity string.
func (c *Connection) Key() string {
	return c.params.key
}

// Events returns a copy of the event log accumulated so far.
func (c *Connection) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events.events))
	copy(out, c.events.events)
	return out
}

// SetEventObserver registers a callback invoked for every recorded event.
func (c *Connection) SetEventObserver(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.notify = fn
}

// Stats returns the connection statistics, including the RTT summary and
// final RTO.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	c.rto.fillStats(&st)
	return st
}

// Congestion exposes the congestion controller for observation.
func (c *Connection) Congestion() *CongestionController {
	return c.cc
}

// OpenPassive transitions CLOSED -> LISTEN and allocates the receive queue.
func (c *Connection) OpenPassive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.raise(evPassiveOpen); err != nil {
		return err
	}
	c.rcvQueue = make([][]byte, 0)
	return nil
}

// OpenActive chooses an initial sequence number, sends the SYN and
// transitions CLOSED -> SYN-SENT.
func (c *Connection) OpenActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := lookupTransition(c.state, evActiveOpen); !ok {
		return c.reject(evActiveOpen)
	}
	isn, err := c.chooseISN()
	if err != nil {
		return err
	}
	if err := c.raise(evActiveOpen); err != nil {
		return err
	}
	c.rcvQueue = make([][]byte, 0)
	c.initialSeq = isn
	c.snd.base = isn
	c.snd.next = isn

	syn := NewSegment(isn, 0, SYNFlag, nil, c)
	c.snd.trackControl(syn)
	c.transmitSegment(syn, false)
	return nil
}

// Send offers payload to the sliding-window sender. Rejected unless the
// connection is ESTABLISHED or CLOSE-WAIT (the peer closed its side but ours
// is still open). A full window queues the payload rather than dropping it.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished && c.state != StateCloseWait {
		c.events.record(Event{
			Kind: EventRequestRejected, Time: c.clock.Now(),
			From: c.state, Trigger: "send",
		})
		return fmt.Errorf("%w: send in state %s", ErrInvalidStateTransition, c.state)
	}
	if len(payload) == 0 {
		return fmt.Errorf("send: empty payload")
	}
	if Pool != nil && len(payload) > bufferLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), bufferLength)
	}
	c.snd.offer(payload)
	return nil
}

// Close requests an orderly shutdown: the FIN is queued behind any
// unsent payloads and the state machine moves to FIN-WAIT-1 (active close)
// or LAST-ACK (close after the peer's FIN). Unacknowledged segments keep
// their retransmission deadlines until acknowledged or the connection
// reaches CLOSED.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.raise(evClose); err != nil {
		return err
	}
	c.snd.offerFin()
	return nil
}

// Receive pops the next in-order application payload, if any.
func (c *Connection) Receive() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rcvQueue) == 0 {
		return nil, false
	}
	payload := c.rcvQueue[0]
	c.rcvQueue = c.rcvQueue[1:]
	return payload, true
}

// Deliver dispatches one inbound segment through the connection's state
// machine and sender. It is synchronous: by the time it returns, any
// deadline the segment cancels can no longer fire, which is the fixed
// ordering that resolves the ACK-versus-timeout race.
func (c *Connection) Deliver(seg *Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		seg.ReturnChunk()
		return
	}

	c.stats.SegmentsReceived++
	c.events.record(Event{
		Kind: EventSegmentReceived, Time: c.clock.Now(),
		Seq: seg.SequenceNumber, Ack: seg.AcknowledgmentNum, Flags: seg.Flags,
	})

	if seg.WindowSize > 0 {
		c.snd.advertised = int(seg.WindowSize)
	}

	switch {
	case seg.IsSYN():
		c.handleSyn(seg)
	case seg.IsSynAck():
		c.handleSynAck(seg)
	case seg.IsFIN():
		c.handleFin(seg)
	case seg.IsACK():
		c.handleAck(seg)
	case seg.IsData():
		c.handleData(seg)
	default:
		// invalid flag combinations are the wire codec's problem; a
		// segment that slips through is ignored
		log.Printf("connection %s: ignoring segment with flags 0x%02x", c.params.key, seg.Flags)
		seg.ReturnChunk()
	}
}

// handleSyn answers a connection request: LISTEN -> SYN-RECEIVED, SYN-ACK out.
func (c *Connection) handleSyn(seg *Segment) {
	if _, ok := lookupTransition(c.state, evRecvSyn); !ok {
		if c.state == StateSynReceived && seg.SequenceNumber == c.initialPeerSeq {
			// retransmitted SYN: our SYN-ACK is still pending, let
			// its timer re-send it
			return
		}
		c.reject(evRecvSyn)
		return
	}
	isn, err := c.chooseISN()
	if err != nil {
		log.Printf("connection %s: cannot pick ISN: %v", c.params.key, err)
		return
	}
	c.raise(evRecvSyn)
	c.initialPeerSeq = seg.SequenceNumber
	c.rcvNext = SeqIncrement(seg.SequenceNumber)
	c.initialSeq = isn
	c.snd.base = isn
	c.snd.next = isn

	synAck := NewSegment(isn, c.rcvNext, SYNFlag|ACKFlag, nil, c)
	c.snd.trackControl(synAck)
	c.transmitSegment(synAck, false)
}

// handleSynAck completes the active open: SYN-SENT -> ESTABLISHED, ACK out.
func (c *Connection) handleSynAck(seg *Segment) {
	if c.state == StateEstablished && seg.SequenceNumber == c.initialPeerSeq {
		// our handshake ACK was lost; repeat it
		c.sendAck()
		return
	}
	if _, ok := lookupTransition(c.state, evRecvSynAck); !ok {
		c.reject(evRecvSynAck)
		return
	}
	c.snd.onAck(seg.AcknowledgmentNum) // covers our SYN, cancels its timer
	c.initialPeerSeq = seg.SequenceNumber
	c.rcvNext = SeqIncrement(seg.SequenceNumber)
	c.raise(evRecvSynAck)
	c.sendAck()
}

// handleAck feeds the cumulative acknowledgment to the sender, then checks
// whether it also completes a pending handshake or close step.
func (c *Connection) handleAck(seg *Segment) {
	switch c.state {
	case StateClosed, StateListen:
		// nothing outstanding an ACK could refer to
		c.reject(evRecvAck)
		return
	}
	c.snd.onAck(seg.AcknowledgmentNum)

	switch c.state {
	case StateSynReceived:
		if isGreater(c.snd.base, c.initialSeq) {
			c.raise(evRecvAck)
		}
	case StateFinWait1:
		if c.snd.finAcked() {
			c.raise(evRecvAck)
		}
	case StateClosing:
		if c.snd.finAcked() {
			c.raise(evRecvAck)
		}
	case StateLastAck:
		if c.snd.finAcked() {
			c.raise(evRecvAck)
		}
	default:
		// plain data-path acknowledgment, no lifecycle meaning
	}
}

// handleFin acknowledges the peer's FIN and advances the close sequence. The
// FIN is honored only at the cumulative point; a FIN that outran lost data is
// re-ACKed without a state change so retransmission can fill the gap first.
func (c *Connection) handleFin(seg *Segment) {
	switch c.state {
	case StateTimeWait, StateCloseWait, StateClosing, StateLastAck:
		// the peer's FIN was already consumed; its retransmission means
		// our ACK was lost, so repeat it
		c.sendAck()
		return
	}
	if _, ok := lookupTransition(c.state, evRecvFin); !ok {
		c.reject(evRecvFin)
		return
	}
	if seg.SequenceNumber != c.rcvNext {
		c.sendAck()
		return
	}
	c.rcvNext = SeqIncrement(seg.SequenceNumber)
	c.raise(evRecvFin)
	c.sendAck()
}

// handleData accepts in-order payload, acknowledges cumulatively, and
// re-acknowledges duplicates and gaps without advancing.
func (c *Connection) handleData(seg *Segment) {
	switch c.state {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
	default:
		c.rejectNamed("receive data")
		seg.ReturnChunk()
		return
	}
	if seg.SequenceNumber == c.rcvNext {
		c.rcvNext = SeqIncrement(seg.SequenceNumber)
		c.rcvQueue = append(c.rcvQueue, append([]byte(nil), seg.Payload...))
	}
	// out-of-order or duplicate data falls through to a repeated
	// cumulative ACK; retransmission fills the gap
	seg.ReturnChunk()
	c.sendAck()
}

// sendAck emits a bare cumulative acknowledgment. ACKs are not tracked for
// retransmission; a lost ACK is repaired by the peer's timer.
func (c *Connection) sendAck() {
	ack := NewSegment(c.snd.next, c.rcvNext, ACKFlag, nil, c)
	c.transmitSegment(ack, false)
}

// raise applies one state-machine event. Undefined transitions are recorded
// and reported as ErrInvalidStateTransition; they never change state.
func (c *Connection) raise(ev connEvent) error {
	next, ok := lookupTransition(c.state, ev)
	if !ok {
		return c.reject(ev)
	}
	old := c.state
	c.state = next
	c.events.record(Event{
		Kind: EventStateChange, Time: c.clock.Now(),
		From: old, To: next, Trigger: ev.String(),
	})
	if c.config.Debug {
		log.Printf("connection %s: %s -> %s (%s)", c.params.key, old, next, ev)
	}
	c.enterState(next)
	return nil
}

// reject records an out-of-order event without changing state.
func (c *Connection) reject(ev connEvent) error {
	return c.rejectNamed(ev.String())
}

func (c *Connection) rejectNamed(trigger string) error {
	c.events.record(Event{
		Kind: EventRequestRejected, Time: c.clock.Now(),
		From: c.state, Trigger: trigger,
	})
	return fmt.Errorf("%w: %s in state %s", ErrInvalidStateTransition, trigger, c.state)
}

// enterState runs the entry effects of a state.
func (c *Connection) enterState(s State) {
	switch s {
	case StateEstablished:
		// arm the sliding-window sender: data may flow now
		c.snd.armed = true
	case StateTimeWait:
		c.timeWaitDeadline = c.clock.Schedule(c.config.TimeWaitTimeout, c.onTimeWaitExpired)
	case StateClosed:
		c.release()
	}
}

// onTimeWaitExpired fires once when the TIME-WAIT hold period ends.
func (c *Connection) onTimeWaitExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateTimeWait {
		return
	}
	c.events.record(Event{
		Kind: EventTimerFired, Time: c.clock.Now(),
		Trigger: "TIME-WAIT timeout",
	})
	c.raise(evTimeWaitExpired)
}

// onDeadlineExpired is the retransmission timer callback for one pending
// segment. The deadline fires at most once; acknowledgment cancels it
// beforehand, so a fired deadline always means the segment is presumed lost.
func (c *Connection) onDeadlineExpired(seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return
	}
	if _, ok := c.snd.pending[seq]; !ok {
		return
	}
	c.events.record(Event{
		Kind: EventTimerFired, Time: c.clock.Now(),
		Seq: seq, Trigger: "retransmission timeout",
	})
	c.rto.OnTimeout()
	c.snd.onLossDetected(seq, true)
}

// transmitSegment hands an outbound segment to the wire and records it.
func (c *Connection) transmitSegment(seg *Segment, retx bool) {
	c.stats.SegmentsSent++
	c.events.record(Event{
		Kind: EventSegmentSent, Time: c.clock.Now(),
		Seq: seg.SequenceNumber, Ack: seg.AcknowledgmentNum,
		Flags: seg.Flags, Retx: retx,
	})
	if c.config.Debug {
		log.Printf("connection %s: send %s retx=%t", c.params.key, seg, retx)
	}
	if c.params.transmit != nil {
		c.params.transmit(seg)
	}
}

// release frees the connection's resources on reaching terminal CLOSED.
func (c *Connection) release() {
	if c.isClosed {
		return
	}
	c.isClosed = true
	c.snd.releaseAll()
	if c.timeWaitDeadline != nil {
		c.timeWaitDeadline.Cancel()
		c.timeWaitDeadline = nil
	}
	c.rcvQueue = nil
	if c.params.onClosed != nil {
		c.params.onClosed(c)
	}
	if c.config.Debug {
		log.Printf("connection %s: resources released", c.params.key)
	}
}

// chooseISN picks the initial sequence number from the injected source or
// at random.
func (c *Connection) chooseISN() (uint32, error) {
	if c.config.ISN != nil {
		return c.config.ISN()
	}
	return GenerateISN()
}
