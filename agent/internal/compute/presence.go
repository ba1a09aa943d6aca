package compute

import (
	"github.com/presencewatch/presencewatch/agent/internal/classifier"
	"github.com/presencewatch/presencewatch/pkg/types"
)

// presenceOf maps a stabilized classifier state to the reported presence.
func presenceOf(s classifier.State) string {
	switch s {
	case classifier.StateLow:
		return types.PresenceOnline
	case classifier.StateHigh:
		return types.PresenceStandby
	default:
		return types.PresenceCalibrating
	}
}

// nextPresence returns the presence after one probe outcome. A failure only
// moves the target to offline once offlineAfter failures are consecutive;
// before that the last known presence is kept.
func nextPresence(current string, state classifier.State, failures, offlineAfter int) string {
	if failures == 0 {
		return presenceOf(state)
	}
	if failures >= offlineAfter {
		return types.PresenceOffline
	}
	return current
}
