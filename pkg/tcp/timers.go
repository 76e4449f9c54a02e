package tcp

import "time"

// initialSRTT is the smoothed RTT estimate a connection starts with, before
// any sample has been observed.
const initialSRTT = 60 * time.Second

// srttAlpha is the weight given to the old SRTT value on each update
// (exponentially weighted moving average).
const srttAlpha = 0.8

type sendTimeEntry struct {
	seq uint32
	at  time.Time
}

// Timers tracks, per connection, when each outstanding segment was sent (so
// on_timer can decide whether a retransmit is due) and a smoothed RTT
// estimate derived from ACKs as they arrive.
type Timers struct {
	sendTimes []sendTimeEntry
	srtt      time.Duration
}

// NewTimers returns a Timers with the RFC 6298-inspired initial SRTT.
func NewTimers() *Timers {
	return &Timers{srtt: initialSRTT}
}

// Record notes that a segment starting at seq was transmitted at now. A
// retransmit of an already-outstanding seq refreshes its timestamp rather
// than adding a duplicate entry.
func (t *Timers) Record(seq uint32, now time.Time) {
	for i := range t.sendTimes {
		if t.sendTimes[i].seq == seq {
			t.sendTimes[i].at = now
			return
		}
	}
	t.sendTimes = append(t.sendTimes, sendTimeEntry{seq: seq, at: now})
}

// PurgeAcked removes every entry whose key falls in the half-open range
// [loInclusive, hiExclusive) — the bytes the peer just acknowledged — and
// folds an RTT sample from each into the smoothed RTT estimate, in purge
// order.
func (t *Timers) PurgeAcked(loInclusive, hiExclusive uint32, now time.Time) {
	kept := t.sendTimes[:0]
	for _, e := range t.sendTimes {
		inRange := (e.seq == loInclusive || WrappingLT(loInclusive, e.seq)) && WrappingLT(e.seq, hiExclusive)
		if inRange {
			rtt := now.Sub(e.at)
			t.srtt = time.Duration(srttAlpha*float64(t.srtt) + (1-srttAlpha)*float64(rtt))
		} else {
			kept = append(kept, e)
		}
	}
	t.sendTimes = kept
}

// OldestWait returns how long the oldest still-outstanding segment (keyed at
// or after una) has waited for an ACK, and whether any such segment exists.
func (t *Timers) OldestWait(una uint32, now time.Time) (time.Duration, bool) {
	var oldest *sendTimeEntry
	for i := range t.sendTimes {
		e := &t.sendTimes[i]
		if e.seq == una || !WrappingLT(e.seq, una) {
			if oldest == nil || e.at.Before(oldest.at) {
				oldest = e
			}
		}
	}
	if oldest == nil {
		return 0, false
	}
	return now.Sub(oldest.at), true
}

// SRTT returns the current smoothed round-trip time estimate.
func (t *Timers) SRTT() time.Duration {
	return t.srtt
}
