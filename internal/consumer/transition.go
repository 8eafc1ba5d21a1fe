package consumer

import "github.com/adeosun07/CTIserver-sub001/internal/store"

// transitions is the call lifecycle matrix. A missing entry means the
// update is dropped with a warning; same-state re-entry is always permitted
// and idempotent. Terminal states (ended, missed, rejected, voicemail) are
// sticky against late or out-of-order events.
var transitions = map[string]map[string]bool{
	store.CallRinging: {
		store.CallActive:    true,
		store.CallEnded:     true,
		store.CallMissed:    true,
		store.CallRejected:  true,
		store.CallVoicemail: true,
	},
	store.CallActive: {
		store.CallEnded:     true,
		store.CallVoicemail: true,
	},
	store.CallEnded:     {},
	store.CallMissed:    {},
	store.CallRejected:  {},
	store.CallVoicemail: {},
}

// canTransition reports whether a call may move from one status to another.
// An empty from means no row exists yet; every initial status is allowed.
func canTransition(from, to string) bool {
	if from == "" || from == to {
		return true
	}
	allowed, known := transitions[from]
	if !known {
		// Unknown stored status: allow the update rather than wedging the row.
		return true
	}
	return allowed[to]
}
