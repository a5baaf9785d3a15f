package rtc

import "fmt"

type phase int

const (
	phaseIdle phase = iota
	// A round holds the lock and is creating or applying SDP.
	phasePreparing
	// The round's first description is applied; waiting for stable.
	phaseExchanging
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePreparing:
		return "preparing"
	case phaseExchanging:
		return "exchanging"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// negotiation is the offer/answer lock. It is not safe for concurrent use;
// the Coordinator guards it with its mutex.
//
// Every round gets a number, so a round whose lock was reset by Cleanup
// cannot release the lock of a later round.
type negotiation struct {
	phase phase
	round uint64

	// A single pending slot: renegotiation requests made while busy
	// coalesce into one replay.
	pending        bool
	pendingRestart bool
}

// begin acquires the lock for a new round.
func (n *negotiation) begin() (uint64, bool) {
	if n.phase != phaseIdle {
		return 0, false
	}
	n.round++
	n.phase = phasePreparing
	return n.round, true
}

// applied records that round's first description took effect.
func (n *negotiation) applied(round uint64) bool {
	if n.round != round || n.phase != phasePreparing {
		return false
	}
	n.phase = phaseExchanging
	return true
}

// abort releases the lock held by round after a failure.
func (n *negotiation) abort(round uint64) bool {
	if n.round != round || n.phase == phaseIdle {
		return false
	}
	n.phase = phaseIdle
	return true
}

// settle releases the lock once the connection reports stable. Rounds still
// preparing are not affected; their stable report predates them.
func (n *negotiation) settle() bool {
	if n.phase != phaseExchanging {
		return false
	}
	n.phase = phaseIdle
	return true
}

// request records a renegotiation that could not start.
func (n *negotiation) request(restart bool) {
	n.pending = true
	n.pendingRestart = n.pendingRestart || restart
}

// cover clears the pending request a new round makes redundant. A pending
// ICE restart is only covered by a restart.
func (n *negotiation) cover(restart bool) {
	if n.pending && (restart || !n.pendingRestart) {
		n.pending, n.pendingRestart = false, false
	}
}

// takePending clears and returns the pending request when idle.
func (n *negotiation) takePending() (pending, restart bool) {
	if n.phase != phaseIdle || !n.pending {
		return false, false
	}
	pending, restart = n.pending, n.pendingRestart
	n.pending, n.pendingRestart = false, false
	return pending, restart
}

func (n *negotiation) active() bool {
	return n.phase != phaseIdle
}
