// Package selection decides which SFU a client in a room should connect to.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sfu-gateway/internal/balance"
	"sfu-gateway/internal/model"
	"sfu-gateway/internal/registry"
	"sfu-gateway/internal/roster"
)

// Strategy names.
const (
	NameRandom       = "Random"
	NameFromSchedule = "FromSchedule"
)

// Registry is the part of the registry the strategies read.
type Registry interface {
	RandomSfuID(ctx context.Context, excludeID model.SfuID) (model.SfuID, error)
	GetSfuStatus(ctx context.Context, sfuID model.SfuID) (model.SfuStatus, error)
	GetAvailableSfu(ctx context.Context, newLoad int, excludeID model.SfuID) (model.SfuID, error)
}

// Strategy picks an SFU for a room given a snapshot of its tracks.
// An empty id with a nil error means the strategy had no answer.
type Strategy interface {
	Name() string
	SfuID(ctx context.Context, excludeID model.SfuID) (model.SfuID, error)
}

// inUse returns the distinct SFU ids carrying tracks, in first-seen order,
// leaving out excludeID.
func inUse(tracks []model.TrackInfo, excludeID model.SfuID) []model.SfuID {
	seen := make(map[model.SfuID]struct{}, len(tracks))
	ids := make([]model.SfuID, 0, len(tracks))
	for _, t := range tracks {
		if t.SfuID == excludeID {
			continue
		}
		if _, ok := seen[t.SfuID]; ok {
			continue
		}
		seen[t.SfuID] = struct{}{}
		ids = append(ids, t.SfuID)
	}
	return ids
}

// Random keeps the room on an SFU it already uses, chosen uniformly. A room
// with no tracks gets any live SFU.
type Random struct {
	Tracks   []model.TrackInfo
	Registry Registry
	Policy   balance.Policy
}

func (s *Random) Name() string { return NameRandom }

func (s *Random) SfuID(ctx context.Context, excludeID model.SfuID) (model.SfuID, error) {
	if id := s.Policy.Random(inUse(s.Tracks, excludeID)); id != "" {
		return id, nil
	}
	return s.Registry.RandomSfuID(ctx, excludeID)
}

// FromSchedule estimates how much load the rest of the class will add and
// places the room where that load fits. It prefers the least loaded SFU the
// room already uses, then any live SFU with headroom.
type FromSchedule struct {
	Tracks     []model.TrackInfo
	Registry   Registry
	Roster     roster.Source
	Policy     balance.Policy
	ScheduleID model.ScheduleID
	OrgID      model.OrgID
	Cookie     string
	Logger     *slog.Logger
}

func (s *FromSchedule) Name() string { return NameFromSchedule }

// PotentialLoad is the load a room is expected to add: each participant
// publishes up to three tracks and every new track is consumed by every
// participant.
func PotentialLoad(students, teachers, currentTracks int) int {
	newTracks := 3*teachers + 3*students - currentTracks
	newConsumers := newTracks * (students + teachers)
	return newTracks + newConsumers
}

func (s *FromSchedule) SfuID(ctx context.Context, excludeID model.SfuID) (model.SfuID, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r, err := s.Roster.GetSchedule(ctx, s.ScheduleID, s.OrgID, s.Cookie)
	if err != nil {
		return "", fmt.Errorf("roster: %w", err)
	}
	students, teachers := r.Headcount()
	load := s.Policy.Clamp(PotentialLoad(students, teachers, len(s.Tracks)))
	logger.Debug("estimated room load",
		"schedule_id", s.ScheduleID,
		"students", students,
		"teachers", teachers,
		"load", load,
	)

	candidates, err := s.statuses(ctx, inUse(s.Tracks, excludeID), logger)
	if err != nil {
		return "", err
	}

	var (
		best   model.SfuID
		lowest int
	)
	for _, c := range s.Policy.Qualifying(candidates, load) {
		if best == "" || c.Status.Load() < lowest {
			best, lowest = c.ID, c.Status.Load()
		}
	}
	if best != "" {
		return best, nil
	}

	id, err := s.Registry.GetAvailableSfu(ctx, load, excludeID)
	if errors.Is(err, registry.ErrNoSfuAvailable) {
		return "", nil
	}
	return id, err
}

// statuses reads the status of each id concurrently. Ids without a
// readable status are left out.
func (s *FromSchedule) statuses(ctx context.Context, ids []model.SfuID, logger *slog.Logger) ([]balance.Candidate, error) {
	found := make([]*balance.Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			status, err := s.Registry.GetSfuStatus(gctx, id)
			if err != nil {
				logger.Debug("skipping sfu in use by room", "sfu_id", id, "error", err)
				return nil
			}
			found[i] = &balance.Candidate{ID: id, Status: status}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]balance.Candidate, 0, len(ids))
	for _, c := range found {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}
