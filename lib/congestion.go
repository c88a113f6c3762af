package lib

// CongestionPhase is the controller's current growth regime.
type CongestionPhase uint8

const (
	SlowStart CongestionPhase = iota
	CongestionAvoidance
	Recovery
)

func (p CongestionPhase) String() string {
	switch p {
	case SlowStart:
		return "slow-start"
	case CongestionAvoidance:
		return "congestion-avoidance"
	case Recovery:
		return "recovery"
	}
	return "unknown"
}

// CongestionController owns cwnd and ssthresh for one connection. In the
// default growth model cwnd doubles once per
// completed round trip during slow start and grows by one segment per round
// trip in congestion avoidance. The conventional per-ACK variant is selected
// with perAck and applies Reno-style increments instead.
//
// Invariants: cwnd >= 1 and ssthresh >= 2 after every operation.
type CongestionController struct {
	cwnd     int
	ssthresh int
	phase    CongestionPhase
	perAck   bool
	caAcks   int // acked segments accumulated in congestion avoidance (per-ACK mode)
}

// NewCongestionController creates a controller with the given starting
// window and threshold; floors are enforced here and everywhere else.
func NewCongestionController(initialCwnd, initialSsthresh int, perAck bool) *CongestionController {
	if initialCwnd < 1 {
		initialCwnd = 1
	}
	if initialSsthresh < 2 {
		initialSsthresh = 2
	}
	cc := &CongestionController{
		cwnd:     initialCwnd,
		ssthresh: initialSsthresh,
		perAck:   perAck,
	}
	cc.updatePhase()
	return cc
}

func (cc *CongestionController) Cwnd() int { return cc.cwnd }

func (cc *CongestionController) Ssthresh() int { return cc.ssthresh }

func (cc *CongestionController) Phase() CongestionPhase { return cc.phase }

// updatePhase keeps the phase consistent with cwnd vs ssthresh outside of
// loss recovery.
func (cc *CongestionController) updatePhase() {
	if cc.phase == Recovery {
		return
	}
	if cc.cwnd < cc.ssthresh {
		cc.phase = SlowStart
	} else {
		cc.phase = CongestionAvoidance
	}
}

// OnRoundTrip grows the window once per completed acknowledgment round:
// doubling in slow start (capped at ssthresh), plus one in avoidance. No-op
// in per-ACK mode, where OnAck does the growing.
func (cc *CongestionController) OnRoundTrip() {
	if cc.perAck {
		return
	}
	if cc.phase == SlowStart {
		cc.cwnd *= 2
		if cc.cwnd > cc.ssthresh {
			cc.cwnd = cc.ssthresh
		}
	} else {
		cc.cwnd++
	}
	cc.updatePhase()
}

// OnAck accounts for acked segments in per-ACK mode: cwnd grows by the
// number of newly acknowledged segments in slow start and by one full
// segment per window's worth of acknowledgments in avoidance.
func (cc *CongestionController) OnAck(ackedSegments int) {
	if !cc.perAck || ackedSegments <= 0 {
		return
	}
	if cc.phase == SlowStart {
		newCwnd := cc.cwnd + ackedSegments
		if newCwnd >= cc.ssthresh {
			ackedSegments = newCwnd - cc.ssthresh
			newCwnd = cc.ssthresh
			cc.caAcks = 0
		} else {
			ackedSegments = 0
		}
		cc.cwnd = newCwnd
		cc.updatePhase()
		if ackedSegments == 0 {
			return
		}
	}
	cc.caAcks += ackedSegments
	if cc.caAcks >= cc.cwnd {
		cc.cwnd += cc.caAcks / cc.cwnd
		cc.caAcks = cc.caAcks % cc.cwnd
	}
}

// OnLoss reacts to a detected loss: ssthresh collapses to half the current
// window (never below 2), cwnd resets to one segment and the controller
// enters Recovery. Callers follow up with FastRecovery to restore cwnd to
// the new ssthresh.
func (cc *CongestionController) OnLoss() {
	cc.ssthresh = cc.cwnd / 2
	if cc.ssthresh < 2 {
		cc.ssthresh = 2
	}
	cc.cwnd = 1
	cc.caAcks = 0
	cc.phase = Recovery
}

// FastRecovery restores cwnd to the post-loss ssthresh instead of growing
// back from one, and resumes congestion avoidance.
func (cc *CongestionController) FastRecovery() {
	if cc.phase != Recovery {
		return
	}
	cc.cwnd = cc.ssthresh
	cc.phase = CongestionAvoidance
}
