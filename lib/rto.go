package lib

import "time"

// RtoEstimator maintains the smoothed round-trip statistics and the current
// retransmission timeout for one connection. Smoothing follows the classic
// TCP weights: srtt = 7/8 srtt + 1/8 sample, rttvar = 3/4 rttvar + 1/4
// |srtt - sample|, rto = srtt + 4*rttvar, clamped between a floor and a cap.
// Consecutive timeouts double the RTO up to the cap; the backoff is discarded
// as soon as a round trip completes again, clean sample or not.
type RtoEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	initial time.Duration
	minRTO  time.Duration
	maxRTO  time.Duration
	sampled bool // at least one RTT sample taken
	backoff int  // consecutive timeouts since the last completed round trip

	// sample statistics for end-of-connection reporting
	count    int
	minRTT   time.Duration
	maxRTT   time.Duration
	totalRTT time.Duration
}

// NewRtoEstimator creates an estimator with the given initial RTO and
// floor/cap bounds.
func NewRtoEstimator(initial, floor, cap time.Duration) *RtoEstimator {
	if initial < floor {
		initial = floor
	}
	return &RtoEstimator{
		rto:     initial,
		initial: initial,
		minRTO:  floor,
		maxRTO:  cap,
	}
}

// RTO returns the current retransmission timeout.
func (e *RtoEstimator) RTO() time.Duration {
	return e.rto
}

// AddSample feeds one measured round-trip time into the smoothed estimate
// and recomputes the RTO from it.
func (e *RtoEstimator) AddSample(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !e.sampled {
		// first sample seeds the estimate, per RFC 6298
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.sampled = true
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = (3*e.rttvar + diff) / 4
		e.srtt = (7*e.srtt + rtt) / 8
	}
	e.backoff = 0
	e.rto = e.clamp(e.srtt + 4*e.rttvar)

	e.count++
	e.totalRTT += rtt
	if e.count == 1 || rtt < e.minRTT {
		e.minRTT = rtt
	}
	if rtt > e.maxRTT {
		e.maxRTT = rtt
	}
}

// OnTimeout doubles the RTO, capped at the maximum. Repeated consecutive
// timeouts compound the doubling.
func (e *RtoEstimator) OnTimeout() {
	e.backoff++
	e.rto = e.clamp(e.rto * 2)
}

// OnProgress notes a confirmed successful round trip. Any timeout backoff is
// discarded and the RTO is recomputed from the smoothed estimate, even when
// the completing acknowledgment covered a retransmitted segment and so could
// not contribute a sample of its own.
func (e *RtoEstimator) OnProgress() {
	if e.backoff == 0 {
		return
	}
	e.backoff = 0
	if e.sampled {
		e.rto = e.clamp(e.srtt + 4*e.rttvar)
	} else {
		e.rto = e.clamp(e.initial)
	}
}

// SmoothedRTT returns the current smoothed round-trip estimate.
func (e *RtoEstimator) SmoothedRTT() time.Duration {
	return e.srtt
}

func (e *RtoEstimator) clamp(rto time.Duration) time.Duration {
	if rto < e.minRTO {
		return e.minRTO
	}
	if rto > e.maxRTO {
		return e.maxRTO
	}
	return rto
}

// fillStats copies the collected RTT statistics into st.
func (e *RtoEstimator) fillStats(st *Stats) {
	st.RttSamples = e.count
	st.MinRTT = e.minRTT
	st.MaxRTT = e.maxRTT
	if e.count > 0 {
		st.AvgRTT = e.totalRTT / time.Duration(e.count)
	}
	st.FinalRTO = e.rto
}
