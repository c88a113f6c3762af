package lib

// State is the connection's position in the open/established/close
// lifecycle.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

var stateNames = [...]string{
	"CLOSED", "LISTEN", "SYN-SENT", "SYN-RECEIVED", "ESTABLISHED",
	"FIN-WAIT-1", "FIN-WAIT-2", "CLOSE-WAIT", "CLOSING", "LAST-ACK",
	"TIME-WAIT",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "INVALID"
}

// connEvent is a trigger delivered to the state machine: an application
// request, a classified inbound segment, or a timer expiry.
type connEvent uint8

const (
	evPassiveOpen connEvent = iota
	evActiveOpen
	evRecvSyn
	evRecvSynAck
	evRecvAck // an ACK that completes the pending handshake or close step
	evRecvFin
	evClose
	evTimeWaitExpired
)

var eventNames = [...]string{
	"passive open", "active open", "receive SYN", "receive SYN-ACK",
	"receive ACK", "receive FIN", "close requested", "timeout elapsed",
}

func (e connEvent) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown event"
}

// transitions is the state machine as data. Events without an entry for the
// current state are out-of-order: rejected, never fatal. Effects (which
// segment to emit, what to arm) live in the connection's dispatch step; the
// table only encodes the legal shape of the lifecycle.
var transitions = map[State]map[connEvent]State{
	StateClosed: {
		evPassiveOpen: StateListen,
		evActiveOpen:  StateSynSent,
	},
	StateListen: {
		evRecvSyn: StateSynReceived,
	},
	StateSynSent: {
		evRecvSynAck: StateEstablished,
	},
	StateSynReceived: {
		evRecvAck: StateEstablished,
	},
	StateEstablished: {
		evClose:   StateFinWait1,
		evRecvFin: StateCloseWait,
	},
	StateFinWait1: {
		evRecvAck: StateFinWait2,
		evRecvFin: StateClosing, // simultaneous close
	},
	StateFinWait2: {
		evRecvFin: StateTimeWait,
	},
	StateCloseWait: {
		evClose: StateLastAck,
	},
	StateClosing: {
		evRecvAck: StateTimeWait,
	},
	StateLastAck: {
		evRecvAck: StateClosed,
	},
	StateTimeWait: {
		evTimeWaitExpired: StateClosed,
	},
}

// lookupTransition returns the successor state for ev in state from, and
// whether the transition is defined.
func lookupTransition(from State, ev connEvent) (State, bool) {
	row, ok := transitions[from]
	if !ok {
		return from, false
	}
	next, ok := row[ev]
	return next, ok
}
