package selection

import (
	"context"
	"log/slog"

	"sfu-gateway/internal/balance"
	"sfu-gateway/internal/model"
	"sfu-gateway/internal/registry"
	"sfu-gateway/internal/roster"
)

// Request carries what one selection needs to know about the room and the
// caller.
type Request struct {
	// Strategy is the selectionStrategy query value: "random",
	// "fromSchedule" or empty.
	Strategy   string
	Tracks     []model.TrackInfo
	ExcludeID  model.SfuID
	ScheduleID model.ScheduleID
	OrgID      model.OrgID
	Cookie     string
}

// Result is a successful selection.
type Result struct {
	SfuID    model.SfuID
	Strategy string
}

// Outcome is reported once per strategy attempt.
type Outcome func(strategy string, ok bool)

// Selector runs the strategies for a request in a fixed fallback order.
type Selector struct {
	registry Registry
	roster   roster.Source
	policy   balance.Policy
	logger   *slog.Logger
	observe  Outcome
}

// NewSelector creates a Selector. observe may be nil.
func NewSelector(reg Registry, source roster.Source, policy balance.Policy, logger *slog.Logger, observe Outcome) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		registry: reg,
		roster:   source,
		policy:   policy,
		logger:   logger,
		observe:  observe,
	}
}

// Strategies returns the strategies to try for req, in order.
func (s *Selector) Strategies(req Request) []Strategy {
	random := &Random{Tracks: req.Tracks, Registry: s.registry, Policy: s.policy}
	fromSchedule := &FromSchedule{
		Tracks:     req.Tracks,
		Registry:   s.registry,
		Roster:     s.roster,
		Policy:     s.policy,
		ScheduleID: req.ScheduleID,
		OrgID:      req.OrgID,
		Cookie:     req.Cookie,
		Logger:     s.logger,
	}

	switch req.Strategy {
	case "random":
		return []Strategy{random}
	case "", "fromSchedule":
	default:
		s.logger.Warn("unknown selection strategy, using default", "strategy", req.Strategy)
	}
	return []Strategy{fromSchedule, random}
}

// Select returns the first id a strategy produces. It fails only when
// every strategy fails or comes back empty.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	lastErr := registry.ErrNoSfuAvailable
	for _, strategy := range s.Strategies(req) {
		id, err := strategy.SfuID(ctx, req.ExcludeID)
		ok := err == nil && id != ""
		if s.observe != nil {
			s.observe(strategy.Name(), ok)
		}
		if ok {
			return Result{SfuID: id, Strategy: strategy.Name()}, nil
		}
		if err != nil {
			s.logger.Warn("sfu selection strategy failed", "strategy", strategy.Name(), "error", err)
			lastErr = err
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
	return Result{}, lastErr
}
