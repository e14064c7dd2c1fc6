// Package raceengine implements the per-track race state machine: a pure
// transition function from a seeded track config and the current phase to
// the race events the caller should publish. It has no I/O and no external
// dependencies — every suspension point (log publish, consumer ack, actor
// dispatch) lives one layer up, in the race worker that owns an Engine per
// track.
package raceengine

import (
	"sort"

	"github.com/bmxtiming/p3server/internal/contracts"
	"github.com/bmxtiming/p3server/internal/p3message"
)

// PhaseKind is the current stage of a track's race lifecycle.
type PhaseKind string

const (
	PhaseIdle     PhaseKind = "idle"
	PhaseStaged   PhaseKind = "staged"
	PhaseRacing   PhaseKind = "racing"
	PhaseFinished PhaseKind = "finished"
)

// phase holds the fields relevant to the current PhaseKind; fields that do
// not apply to a kind are left zero.
type phase struct {
	kind           PhaseKind
	motoID         string
	className      string
	roundType      string
	gateDropTimeUs uint64
}

// Engine is a single track's race state machine. It is not safe for
// concurrent use; the race worker serializes access per track.
type Engine struct {
	phase               phase
	trackConfig         *contracts.TrackConfigV1
	ridersByTransponder map[uint32]*riderState
	riderIDs            []string
	decoderToLoop       map[string]contracts.LoopConfigV1
	nextFinishPosition  uint32
}

// New returns an Engine in the idle phase with no track configured.
func New() *Engine {
	return &Engine{
		phase:               phase{kind: PhaseIdle},
		ridersByTransponder: make(map[uint32]*riderState),
		decoderToLoop:       make(map[string]contracts.LoopConfigV1),
		nextFinishPosition:  1,
	}
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() PhaseKind {
	return e.phase.kind
}

// SetTrack loads the track's loop configuration, indexing loops by decoder
// ID for fast lookup during racing.
func (e *Engine) SetTrack(cfg contracts.TrackConfigV1) {
	e.decoderToLoop = make(map[string]contracts.LoopConfigV1, len(cfg.Loops))
	for _, l := range cfg.Loops {
		e.decoderToLoop[l.DecoderID] = l
	}
	e.trackConfig = &cfg
}

// StageMoto loads riders onto the gate for an upcoming moto. It is a no-op
// outside Idle/Finished, matching the original's refusal to stage over an
// in-progress race.
func (e *Engine) StageMoto(motoID, className, roundType string, riders []contracts.StagedRiderV1) *contracts.RaceEventPayloadV1 {
	if e.phase.kind != PhaseIdle && e.phase.kind != PhaseFinished {
		return nil
	}

	e.ridersByTransponder = make(map[uint32]*riderState, len(riders))
	e.riderIDs = make([]string, 0, len(riders))
	e.nextFinishPosition = 1

	stagedRiders := make([]contracts.StagedRiderV1, 0, len(riders))
	for _, r := range riders {
		e.riderIDs = append(e.riderIDs, r.RiderID)
		e.ridersByTransponder[r.TransponderID] = newRiderState(r)
		stagedRiders = append(stagedRiders, r)
	}

	e.phase = phase{kind: PhaseStaged, motoID: motoID, className: className, roundType: roundType}

	return &contracts.RaceEventPayloadV1{
		Kind:      contracts.RaceEventKindRaceStaged,
		MotoID:    motoID,
		ClassName: className,
		RoundType: roundType,
		Riders:    stagedRiders,
	}
}

// ProcessPassing feeds a single decoded passing into the engine, returning
// every race event it produces. Outside Racing (and for passings the
// engine cannot otherwise act on), it returns nil.
func (e *Engine) ProcessPassing(passing *p3message.PassingMessage) []contracts.RaceEventPayloadV1 {
	if e.trackConfig == nil {
		return nil
	}

	switch e.phase.kind {
	case PhaseStaged:
		if !isGateDrop(passing, *e.trackConfig) {
			return nil
		}
		e.phase = phase{
			kind:           PhaseRacing,
			motoID:         e.phase.motoID,
			className:      e.phase.className,
			roundType:      e.phase.roundType,
			gateDropTimeUs: passing.RtcTimeUs,
		}
		ts := passing.RtcTimeUs
		return []contracts.RaceEventPayloadV1{{
			Kind:        contracts.RaceEventKindGateDrop,
			MotoID:      e.phase.motoID,
			TimestampUs: &ts,
		}}

	case PhaseRacing:
		return e.processPassingWhileRacing(passing)

	default:
		return nil
	}
}

func (e *Engine) processPassingWhileRacing(passing *p3message.PassingMessage) []contracts.RaceEventPayloadV1 {
	if isGateDrop(passing, *e.trackConfig) {
		return nil
	}

	if passing.DecoderID == nil {
		return nil
	}
	loopConfig, ok := e.decoderToLoop[*passing.DecoderID]
	if !ok {
		return nil
	}

	rider, ok := e.ridersByTransponder[passing.TransponderID]
	if !ok {
		return nil
	}

	var events []contracts.RaceEventPayloadV1

	elapsedUs := satSub(passing.RtcTimeUs, e.phase.gateDropTimeUs)

	dominated := rider.lastLoopPosition != nil && loopConfig.Position < *rider.lastLoopPosition
	if dominated && !loopConfig.IsFinish {
		return events
	}

	rider.splits[loopConfig.LoopID] = elapsedUs
	rider.lastLoopPosition = u32ptr(loopConfig.Position)
	rider.lastLoopName = &loopConfig.Name
	rider.lastElapsedUs = u64ptr(elapsedUs)

	if loopConfig.IsFinish && !rider.finished {
		rider.finished = true
		rider.finishElapsedUs = u64ptr(elapsedUs)
		pos := e.nextFinishPosition
		rider.finishPosition = &pos
		e.nextFinishPosition++

		var gap *uint64
		if leaderTime, ok := e.leaderFinishTime(); ok {
			gap = u64ptr(satSub(elapsedUs, leaderTime))
		}

		splitEvent := contracts.RaceEventPayloadV1{
			Kind:          contracts.RaceEventKindSplitTime,
			MotoID:        e.phase.motoID,
			RiderID:       rider.riderID,
			LoopName:      loopConfig.Name,
			IsFinish:      true,
			ElapsedUs:     u64ptr(elapsedUs),
			Position:      &pos,
			GapToLeaderUs: gap,
		}
		events = append(events, splitEvent)

		events = append(events, contracts.RaceEventPayloadV1{
			Kind:           contracts.RaceEventKindRiderFinished,
			MotoID:         e.phase.motoID,
			RiderID:        rider.riderID,
			FinishPosition: &pos,
			ElapsedUs:      u64ptr(elapsedUs),
			GapToLeaderUs:  gap,
		})
	} else if !rider.finished {
		position := calculatePositionAtLoop(e.ridersByTransponder, loopConfig.LoopID, rider.riderID)

		var gap *uint64
		if leaderTime, ok := leaderTimeAtLoop(e.ridersByTransponder, loopConfig.LoopID); ok {
			gap = u64ptr(satSub(elapsedUs, leaderTime))
		}

		events = append(events, contracts.RaceEventPayloadV1{
			Kind:          contracts.RaceEventKindSplitTime,
			MotoID:        e.phase.motoID,
			RiderID:       rider.riderID,
			LoopName:      loopConfig.Name,
			IsFinish:      false,
			ElapsedUs:     u64ptr(elapsedUs),
			Position:      &position,
			GapToLeaderUs: gap,
		})
	}

	events = append(events, contracts.RaceEventPayloadV1{
		Kind:      contracts.RaceEventKindPositionsUpdate,
		MotoID:    e.phase.motoID,
		Positions: e.calculatePositions(),
	})

	allFinished := len(e.ridersByTransponder) > 0
	for _, r := range e.ridersByTransponder {
		if !r.finished && !r.dnf {
			allFinished = false
			break
		}
	}

	if allFinished {
		results := e.buildResults()
		motoID := e.phase.motoID
		e.phase = phase{kind: PhaseFinished, motoID: motoID, className: e.phase.className, roundType: e.phase.roundType}
		events = append(events, contracts.RaceEventPayloadV1{
			Kind:    contracts.RaceEventKindRaceFinished,
			MotoID:  motoID,
			Results: results,
		})
	}

	return events
}

// ForceFinish marks every unfinished rider DNF and ends the race. It is a
// no-op (returns nil) outside Racing.
func (e *Engine) ForceFinish() *contracts.RaceEventPayloadV1 {
	if e.phase.kind != PhaseRacing {
		return nil
	}

	for _, r := range e.ridersByTransponder {
		if !r.finished {
			r.dnf = true
		}
	}

	results := e.buildResults()
	motoID := e.phase.motoID
	e.phase = phase{kind: PhaseFinished, motoID: motoID, className: e.phase.className, roundType: e.phase.roundType}

	return &contracts.RaceEventPayloadV1{
		Kind:    contracts.RaceEventKindRaceFinished,
		MotoID:  motoID,
		Results: results,
	}
}

// Reset returns the engine to Idle, clearing all staged/racing rider state.
func (e *Engine) Reset() contracts.RaceEventPayloadV1 {
	e.phase = phase{kind: PhaseIdle}
	e.ridersByTransponder = make(map[uint32]*riderState)
	e.riderIDs = nil
	e.nextFinishPosition = 1
	return contracts.RaceEventPayloadV1{Kind: contracts.RaceEventKindRaceReset}
}

// StateSnapshot reports the engine's current phase, riders, and positions
// with no side effect, for newly connecting dashboard sockets.
func (e *Engine) StateSnapshot() contracts.RaceEventPayloadV1 {
	snap := contracts.RaceEventPayloadV1{
		Kind:        contracts.RaceEventKindStateSnapshot,
		Phase:       string(e.phase.kind),
		TotalRiders: uint32(len(e.ridersByTransponder)),
	}

	switch e.phase.kind {
	case PhaseStaged:
		snap.MotoID, snap.ClassName, snap.RoundType = e.phase.motoID, e.phase.className, e.phase.roundType
	case PhaseRacing:
		snap.MotoID, snap.ClassName, snap.RoundType = e.phase.motoID, e.phase.className, e.phase.roundType
		snap.GateDropTimeUs = u64ptr(e.phase.gateDropTimeUs)
	case PhaseFinished:
		snap.MotoID, snap.ClassName, snap.RoundType = e.phase.motoID, e.phase.className, e.phase.roundType
	}

	riders := make([]contracts.StagedRiderV1, 0, len(e.ridersByTransponder))
	finishedCount := uint32(0)
	for _, r := range e.ridersByTransponder {
		riders = append(riders, r.toStagedRider())
		if r.finished {
			finishedCount++
		}
	}
	sort.Slice(riders, func(i, j int) bool { return riders[i].RiderID < riders[j].RiderID })

	snap.Riders = riders
	snap.Positions = e.calculatePositions()
	snap.FinishedCount = finishedCount

	return snap
}

func (e *Engine) leaderFinishTime() (uint64, bool) {
	best := uint64(0)
	found := false
	for _, r := range e.ridersByTransponder {
		if !r.finished || r.finishElapsedUs == nil {
			continue
		}
		if !found || *r.finishElapsedUs < best {
			best = *r.finishElapsedUs
			found = true
		}
	}
	return best, found
}

// calculatePositions ranks riders: finished by finish_position ascending,
// then racing riders by (furthest loop descending, elapsed ascending), then
// DNF riders by lane ascending. Positions are renumbered 1..N. Ties within
// a group break on rider_id for determinism — the original's HashMap
// iteration order is itself unspecified for ties, so this is a strictly
// more deterministic rendition of the same rule.
func (e *Engine) calculatePositions() []contracts.RiderPositionV1 {
	var finished, racing, dnf []*riderState
	for _, r := range e.ridersByTransponder {
		switch {
		case r.finished:
			finished = append(finished, r)
		case r.dnf:
			dnf = append(dnf, r)
		default:
			racing = append(racing, r)
		}
	}

	sort.Slice(finished, func(i, j int) bool {
		pi, pj := finished[i].finishPosition, finished[j].finishPosition
		if pi == nil || pj == nil {
			return finished[i].riderID < finished[j].riderID
		}
		if *pi != *pj {
			return *pi < *pj
		}
		return finished[i].riderID < finished[j].riderID
	})

	sort.Slice(racing, func(i, j int) bool {
		pi, pj := uint32(0), uint32(0)
		if racing[i].lastLoopPosition != nil {
			pi = *racing[i].lastLoopPosition
		}
		if racing[j].lastLoopPosition != nil {
			pj = *racing[j].lastLoopPosition
		}
		if pi != pj {
			return pi > pj
		}
		ei, ej := ^uint64(0), ^uint64(0)
		if racing[i].lastElapsedUs != nil {
			ei = *racing[i].lastElapsedUs
		}
		if racing[j].lastElapsedUs != nil {
			ej = *racing[j].lastElapsedUs
		}
		if ei != ej {
			return ei < ej
		}
		return racing[i].riderID < racing[j].riderID
	})

	sort.Slice(dnf, func(i, j int) bool {
		if dnf[i].lane != dnf[j].lane {
			return dnf[i].lane < dnf[j].lane
		}
		return dnf[i].riderID < dnf[j].riderID
	})

	leaderFinish, hasLeader := e.leaderFinishTime()

	positions := make([]contracts.RiderPositionV1, 0, len(e.ridersByTransponder))
	pos := uint32(1)
	for _, group := range [][]*riderState{finished, racing, dnf} {
		for _, r := range group {
			var gap *uint64
			if hasLeader && r.finishElapsedUs != nil && pos > 1 {
				gap = u64ptr(satSub(*r.finishElapsedUs, leaderFinish))
			} else if pos > 1 && r.lastElapsedUs != nil {
				gap = u64ptr(*r.lastElapsedUs)
			}
			positions = append(positions, r.toPosition(pos, gap))
			pos++
		}
	}

	return positions
}

func (e *Engine) buildResults() []contracts.FinishResultV1 {
	leaderTime, hasLeader := e.leaderFinishTime()

	results := make([]contracts.FinishResultV1, 0, len(e.ridersByTransponder))
	for _, r := range e.ridersByTransponder {
		var gap *uint64
		isLeader := r.finishPosition != nil && *r.finishPosition == 1
		if hasLeader && r.finishElapsedUs != nil && !isLeader {
			gap = u64ptr(satSub(*r.finishElapsedUs, leaderTime))
		}

		position := uint32(0)
		if r.finishPosition != nil {
			position = *r.finishPosition
		}

		results = append(results, contracts.FinishResultV1{
			RiderID:       r.riderID,
			PlateNumber:   r.plateNumber,
			FirstName:     r.firstName,
			LastName:      r.lastName,
			Position:      position,
			ElapsedUs:     r.finishElapsedUs,
			GapToLeaderUs: gap,
			Dnf:           r.dnf,
			Dns:           false,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Dnf != results[j].Dnf {
			return !results[i].Dnf
		}
		return results[i].Position < results[j].Position
	})

	return results
}
