package raceengine

import (
	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3message"
)

// isGateDrop reports whether a passing signals a gate drop: its
// transponder_id matches the track's configured gate beacon, or it is any
// reserved system transponder ID.
func isGateDrop(passing *p3message.PassingMessage, track contracts.TrackConfigV1) bool {
	return passing.TransponderID == track.GateBeaconID || p3message.IsReservedTransponderID(passing.TransponderID)
}

// calculatePositionAtLoop ranks a rider against every other rider's recorded
// split at the same loop: 1 + the count of strictly faster splits.
func calculatePositionAtLoop(riders map[uint32]*riderState, loopID string, currentRiderID string) uint32 {
	var currentTime uint64
	found := false
	for _, r := range riders {
		if r.riderID == currentRiderID {
			if t, ok := r.splits[loopID]; ok {
				currentTime = t
				found = true
			}
			break
		}
	}
	if !found {
		return 1
	}

	fasterCount := uint32(0)
	for _, r := range riders {
		if r.riderID == currentRiderID {
			continue
		}
		if t, ok := r.splits[loopID]; ok && t < currentTime {
			fasterCount++
		}
	}
	return fasterCount + 1
}

// leaderTimeAtLoop returns the fastest recorded split at a loop, if any
// rider has reached it.
func leaderTimeAtLoop(riders map[uint32]*riderState, loopID string) (uint64, bool) {
	best := uint64(0)
	found := false
	for _, r := range riders {
		t, ok := r.splits[loopID]
		if !ok {
			continue
		}
		if !found || t < best {
			best = t
			found = true
		}
	}
	return best, found
}
