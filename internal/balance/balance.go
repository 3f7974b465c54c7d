// Package balance holds the capacity rules used to place a room's expected
// load onto an SFU.
package balance

import (
	"math/rand/v2"

	"sfu-gateway/internal/model"
)

// DefaultMaxLoad is the producers+consumers capacity of one SFU.
const DefaultMaxLoad = 500

// overflowLoad replaces a required load that no single SFU could ever
// satisfy, so instances fill up one at a time instead of rejecting the room.
const overflowLoad = 3

// Candidate pairs an SFU id with its last reported status.
type Candidate struct {
	ID     model.SfuID
	Status model.SfuStatus
}

// IntN returns a uniform integer in [0, n). It must be safe for concurrent use.
type IntN func(n int) int

// Policy applies a fixed per-SFU capacity.
type Policy struct {
	MaxLoad int
	intn    IntN
}

// New returns a Policy with the given capacity. A non-positive maxLoad
// selects DefaultMaxLoad.
func New(maxLoad int) Policy {
	if maxLoad <= 0 {
		maxLoad = DefaultMaxLoad
	}
	return Policy{MaxLoad: maxLoad, intn: rand.IntN}
}

// WithRand returns a copy of p that draws random numbers from intn.
func (p Policy) WithRand(intn IntN) Policy {
	p.intn = intn
	return p
}

// Clamp returns newLoad, or a small constant when newLoad alone would
// exceed the capacity of any SFU.
func (p Policy) Clamp(newLoad int) int {
	if newLoad >= p.MaxLoad {
		return overflowLoad
	}
	return newLoad
}

// HasHeadroom reports whether s can take newLoad more.
func (p Policy) HasHeadroom(s model.SfuStatus, newLoad int) bool {
	return p.MaxLoad-s.Load() >= newLoad
}

// Qualifying clamps newLoad and returns the candidates with room for it,
// in their original order.
func (p Policy) Qualifying(candidates []Candidate, newLoad int) []Candidate {
	newLoad = p.Clamp(newLoad)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if p.HasHeadroom(c.Status, newLoad) {
			out = append(out, c)
		}
	}
	return out
}

// Pick chooses uniformly at random among the candidates that can take
// newLoad, leaving out excludeID unless it is the only one that qualifies.
// ok is false when no candidate qualifies. exclusionIgnored reports that
// excludeID was returned anyway.
func (p Policy) Pick(candidates []Candidate, newLoad int, excludeID model.SfuID) (id model.SfuID, ok, exclusionIgnored bool) {
	qualifying := p.Qualifying(candidates, newLoad)
	if len(qualifying) == 0 {
		return "", false, false
	}

	ids := make([]model.SfuID, 0, len(qualifying))
	for _, c := range qualifying {
		ids = append(ids, c.ID)
	}
	ids, exclusionIgnored = Exclude(ids, excludeID)

	return p.Random(ids), true, exclusionIgnored
}

// Random returns a uniformly chosen element of ids, or "" if ids is empty.
func (p Policy) Random(ids []model.SfuID) model.SfuID {
	if len(ids) == 0 {
		return ""
	}
	intn := p.intn
	if intn == nil {
		intn = rand.IntN
	}
	return ids[intn(len(ids))]
}

// Exclude removes excludeID from ids. If that would leave nothing, ids is
// returned unchanged and ignored is true.
func Exclude(ids []model.SfuID, excludeID model.SfuID) (out []model.SfuID, ignored bool) {
	if excludeID == "" {
		return ids, false
	}
	out = make([]model.SfuID, 0, len(ids))
	for _, id := range ids {
		if id != excludeID {
			out = append(out, id)
		}
	}
	if len(out) == 0 && len(ids) > 0 {
		return ids, true
	}
	return out, false
}
