package roster

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"sfu-gateway/internal/model"
)

// DefaultTTL is how long a fetched roster is served from memory.
const DefaultTTL = 15 * time.Second

// fetchTimeout bounds a shared fetch, which no longer follows any single
// caller's context. It covers the client's own timeout across its retries.
const fetchTimeout = 45 * time.Second

// Cache is a Source that remembers each (schedule, org) roster for a fixed
// TTL from the moment it was fetched. Reads do not extend the TTL and there
// is no size bound. A background loop deletes entries as they expire; call
// Close to stop it.
type Cache struct {
	source Source
	items  *ttlcache.Cache[string, model.Roster]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache wraps source. A non-positive ttl selects DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	items := ttlcache.New[string, model.Roster](
		ttlcache.WithTTL[string, model.Roster](ttl),
		ttlcache.WithDisableTouchOnHit[string, model.Roster](),
	)
	go items.Start()

	return &Cache{source: source, items: items, logger: logger}
}

func cacheKey(scheduleID model.ScheduleID, orgID model.OrgID) string {
	return string(scheduleID) + "-" + string(orgID)
}

// GetSchedule implements Source. Concurrent misses for the same key share
// one fetch, which keeps running if the caller that started it goes away.
// Each caller still returns as soon as its own ctx is done. Failed fetches
// are not cached.
func (c *Cache) GetSchedule(ctx context.Context, scheduleID model.ScheduleID, orgID model.OrgID, cookie string) (model.Roster, error) {
	key := cacheKey(scheduleID, orgID)
	if item := c.items.Get(key); item != nil {
		return item.Value(), nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if item := c.items.Get(key); item != nil {
			return item.Value(), nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		r, err := c.source.GetSchedule(fetchCtx, scheduleID, orgID, cookie)
		if err != nil {
			return nil, err
		}
		c.items.Set(key, r, ttlcache.DefaultTTL)
		students, teachers := r.Headcount()
		c.logger.Debug("cached roster",
			"schedule_id", scheduleID,
			"org_id", orgID,
			"students", students,
			"teachers", teachers,
		)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return model.Roster{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Roster{}, res.Err
		}
		return res.Val.(model.Roster), nil
	}
}

// Len returns the number of cached rosters.
func (c *Cache) Len() int {
	return c.items.Len()
}

// Close stops the expiry loop and drops every entry.
func (c *Cache) Close() {
	c.items.Stop()
	c.items.DeleteAll()
}
