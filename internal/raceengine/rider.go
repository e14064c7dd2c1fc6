package raceengine

import "github.com/bmxtiming/p3server/internal/contracts"

// riderState is the engine's internal tracking record for one staged rider.
// It is keyed by transponder_id in Engine.ridersByTransponder for fast split
// lookup, and mirrored into StagedRiderV1/RiderPositionV1 for the events the
// engine emits.
type riderState struct {
	riderID       string
	firstName     string
	lastName      string
	plateNumber   string
	transponderID uint32
	lane          uint32

	// splits maps loop_id to elapsed_us from gate drop.
	splits map[string]uint64

	lastLoopPosition *uint32
	lastLoopName     *string
	lastElapsedUs    *uint64

	finishElapsedUs *uint64
	finishPosition  *uint32
	finished        bool
	dnf             bool
}

func newRiderState(r contracts.StagedRiderV1) *riderState {
	return &riderState{
		riderID:       r.RiderID,
		firstName:     r.FirstName,
		lastName:      r.LastName,
		plateNumber:   r.PlateNumber,
		transponderID: r.TransponderID,
		lane:          r.Lane,
		splits:        make(map[string]uint64),
	}
}

func (r *riderState) toStagedRider() contracts.StagedRiderV1 {
	return contracts.StagedRiderV1{
		RiderID:       r.riderID,
		FirstName:     r.firstName,
		LastName:      r.lastName,
		PlateNumber:   r.plateNumber,
		TransponderID: r.transponderID,
		Lane:          r.lane,
	}
}

func (r *riderState) toPosition(position uint32, gapToLeaderUs *uint64) contracts.RiderPositionV1 {
	return contracts.RiderPositionV1{
		RiderID:       r.riderID,
		PlateNumber:   r.plateNumber,
		FirstName:     r.firstName,
		LastName:      r.lastName,
		Lane:          r.lane,
		Position:      position,
		LastLoop:      r.lastLoopName,
		ElapsedUs:     r.lastElapsedUs,
		GapToLeaderUs: gapToLeaderUs,
		Finished:      r.finished,
		Dnf:           r.dnf,
	}
}

func u64ptr(v uint64) *uint64 { return &v }
func u32ptr(v uint32) *uint32 { return &v }

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
