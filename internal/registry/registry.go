// Package registry tracks live SFUs, their load, and the tracks published
// in each room, on top of Redis sorted sets, strings and streams.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"sfu-gateway/internal/balance"
	"sfu-gateway/internal/model"
)

var (
	// ErrNoSfuAvailable is returned when no SFU has reported in recently.
	ErrNoSfuAvailable = errors.New("no sfu available")

	// ErrNotFound is returned when a status record or mapping does not exist.
	ErrNotFound = errors.New("not found")
)

// Default values for Config fields.
const (
	DefaultLivenessWindow     = 15 * time.Second
	DefaultPurgeProbability   = 0.05
	DefaultPollTimeout        = 10 * time.Second
	DefaultNotificationMaxLen = 128
)

// Config holds registry tuning values. Zero fields take defaults.
type Config struct {
	// LivenessWindow is how long an SFU id, status record or track stays
	// valid without being refreshed.
	LivenessWindow time.Duration

	// PurgeProbability is the chance that a liveness listing also deletes
	// expired ids. Listing never returns expired ids either way.
	PurgeProbability float64

	// PollTimeout bounds a single blocking wait for track changes.
	PollTimeout time.Duration

	// NotificationMaxLen caps each room's change stream (approximately).
	NotificationMaxLen int64

	// MaxSfuLoad is the producers+consumers capacity of one SFU.
	MaxSfuLoad int
}

func (c *Config) applyDefaults() {
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = DefaultLivenessWindow
	}
	if c.PurgeProbability <= 0 {
		c.PurgeProbability = DefaultPurgeProbability
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.NotificationMaxLen <= 0 {
		c.NotificationMaxLen = DefaultNotificationMaxLen
	}
	if c.MaxSfuLoad <= 0 {
		c.MaxSfuLoad = balance.DefaultMaxLoad
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	client   redis.UniversalClient
	blocking redis.UniversalClient
	cfg      Config
	policy   balance.Policy
	logger   *slog.Logger

	now    func() time.Time
	chance func() float64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRandom replaces the random sources used for purge sampling and for
// picking among equally valid SFUs.
func WithRandom(intn balance.IntN, chance func() float64) Option {
	return func(r *Registry) {
		r.policy = r.policy.WithRand(intn)
		r.chance = chance
	}
}

// New returns a Registry issuing ordinary commands on client and blocking
// stream reads on blocking. The two must not share a connection pool, so
// that long waits never starve other operations.
func New(client, blocking redis.UniversalClient, cfg Config, opts ...Option) *Registry {
	cfg.applyDefaults()
	r := &Registry{
		client:   client,
		blocking: blocking,
		cfg:      cfg,
		policy:   balance.New(cfg.MaxSfuLoad),
		logger:   slog.Default(),
		now:      time.Now,
		chance:   rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the load policy the registry selects with.
func (r *Registry) Policy() balance.Policy {
	return r.policy
}

// Ping checks that the store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// cutoff returns the oldest score still considered alive.
func (r *Registry) cutoff() int64 {
	return r.now().Add(-r.cfg.LivenessWindow).UnixMilli()
}

// purgeExpired removes sorted set members last seen at or before cutoff.
func (r *Registry) purgeExpired(ctx context.Context, key string, cutoff int64) {
	n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		r.logger.Warn("purge expired entries failed", "key", key, "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged expired entries", "key", key, "count", n)
	}
}

// RegisterLiveness records that sfuID was alive at ts. Older timestamps
// never overwrite newer ones.
func (r *Registry) RegisterLiveness(ctx context.Context, sfuID model.SfuID, ts time.Time) error {
	err := r.client.ZAddArgs(ctx, keySfuIDs(), redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(ts.UnixMilli()), Member: string(sfuID)}},
	}).Err()
	if err != nil {
		return fmt.Errorf("register liveness for sfu %s: %w", sfuID, err)
	}
	return nil
}

// RemoveSfu drops sfuID from the liveness set.
func (r *Registry) RemoveSfu(ctx context.Context, sfuID model.SfuID) error {
	if err := r.client.ZRem(ctx, keySfuIDs(), string(sfuID)).Err(); err != nil {
		return fmt.Errorf("remove sfu %s: %w", sfuID, err)
	}
	return nil
}

// ListLiveSfuIDs returns the SFUs seen within the liveness window, without
// excludeID unless it is the only one.
func (r *Registry) ListLiveSfuIDs(ctx context.Context, excludeID model.SfuID) ([]model.SfuID, error) {
	key := keySfuIDs()
	cutoff := r.cutoff()
	if r.chance() < r.cfg.PurgeProbability {
		r.purgeExpired(ctx, key, cutoff)
	}

	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list sfu ids: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNoSfuAvailable
	}

	ids := make([]model.SfuID, 0, len(members))
	for _, m := range members {
		ids = append(ids, model.SfuID(m))
	}

	ids, ignored := balance.Exclude(ids, excludeID)
	if ignored {
		r.logger.Warn("ignoring exclusion of the only live sfu", "sfu_id", excludeID)
	}
	return ids, nil
}

// RandomSfuID picks uniformly among live SFUs.
func (r *Registry) RandomSfuID(ctx context.Context, excludeID model.SfuID) (model.SfuID, error) {
	ids, err := r.ListLiveSfuIDs(ctx, excludeID)
	if err != nil {
		return "", err
	}
	return r.policy.Random(ids), nil
}

// SetSfuStatus stores status for sfuID, stamped with the current time. The
// record expires after the liveness window.
func (r *Registry) SetSfuStatus(ctx context.Context, sfuID model.SfuID, status model.SfuStatus) error {
	status.LastUpdateTimestamp = r.now().UnixMilli()
	b, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode sfu status: %w", err)
	}
	if err := r.client.Set(ctx, keySfuStatus(sfuID), b, r.cfg.LivenessWindow).Err(); err != nil {
		return fmt.Errorf("set status for sfu %s: %w", sfuID, err)
	}
	return nil
}

// GetSfuStatus returns the last status sfuID reported. A missing, expired
// or unreadable record is ErrNotFound.
func (r *Registry) GetSfuStatus(ctx context.Context, sfuID model.SfuID) (model.SfuStatus, error) {
	raw, err := r.client.Get(ctx, keySfuStatus(sfuID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.SfuStatus{}, fmt.Errorf("status for sfu %s: %w", sfuID, ErrNotFound)
	}
	if err != nil {
		return model.SfuStatus{}, fmt.Errorf("get status for sfu %s: %w", sfuID, err)
	}
	return decodeStatus(sfuID, raw)
}

func decodeStatus(sfuID model.SfuID, raw []byte) (model.SfuStatus, error) {
	var status model.SfuStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return model.SfuStatus{}, fmt.Errorf("decode status for sfu %s: %v: %w", sfuID, err, ErrNotFound)
	}
	return status, nil
}

// GetSfuAddress returns the endpoint sfuID advertises.
func (r *Registry) GetSfuAddress(ctx context.Context, sfuID model.SfuID) (string, error) {
	status, err := r.GetSfuStatus(ctx, sfuID)
	if err != nil {
		return "", err
	}
	if status.Endpoint == "" {
		return "", fmt.Errorf("endpoint for sfu %s: %w", sfuID, ErrNotFound)
	}
	return status.Endpoint, nil
}

// GetAvailableSfu returns a live SFU with room for newLoad, chosen at
// random among those that qualify. If none qualifies it falls back to any
// live SFU.
func (r *Registry) GetAvailableSfu(ctx context.Context, newLoad int, excludeID model.SfuID) (model.SfuID, error) {
	ids, err := r.ListLiveSfuIDs(ctx, "")
	if err != nil {
		return "", err
	}

	candidates := r.statuses(ctx, ids)
	if id, ok, ignored := r.policy.Pick(candidates, newLoad, excludeID); ok {
		if ignored {
			r.logger.Warn("ignoring exclusion of the only sfu with capacity", "sfu_id", excludeID)
		}
		return id, nil
	}

	r.logger.Info("no sfu reports capacity, choosing any live sfu", "load", newLoad)
	return r.RandomSfuID(ctx, excludeID)
}

// statuses fetches the status of every id in one round trip. Ids whose
// status cannot be read are left out.
func (r *Registry) statuses(ctx context.Context, ids []model.SfuID) []balance.Candidate {
	cmds := make([]*redis.StringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.Get(ctx, keySfuStatus(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Debug("status pipeline reported an error", "error", err)
	}

	candidates := make([]balance.Candidate, 0, len(ids))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		status, err := decodeStatus(ids[i], raw)
		if err != nil {
			r.logger.Debug("skipping sfu", "sfu_id", ids[i], "error", err)
			continue
		}
		candidates = append(candidates, balance.Candidate{ID: ids[i], Status: status})
	}
	return candidates
}

// GetLegacySfuAddressByRoomID resolves the v1 room to SFU mapping. ok is
// false when no mapping exists.
func (r *Registry) GetLegacySfuAddressByRoomID(ctx context.Context, roomID model.RoomID) (address string, ok bool, err error) {
	address, err = r.client.Get(ctx, keyLegacyRoomSfu(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get legacy sfu for room %s: %w", roomID, err)
	}
	if address == "" {
		return "", false, nil
	}
	return address, true, nil
}
