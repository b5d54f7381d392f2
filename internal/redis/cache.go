package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medisched/scheduling/internal/schedule"
)

// AvailabilityCache caches free-slot lists per (doctor, date) with a short
// TTL. It is strictly best-effort: a Redis failure is a cache miss, never
// an error to the caller. Writers invalidate the key of any slot they
// touch, so a stale entry can outlive a booking only for the TTL.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *AvailabilityCache {
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func availabilityKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("avail:%s:%s", doctorID, date.Format(time.DateOnly))
}

func (c *AvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, bool) {
	data, err := c.client.Get(ctx, availabilityKey(doctorID, date)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug().Err(err).Msg("availability cache read failed")
		}
		return nil, false
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	slots := make([]schedule.TimeOfDay, 0, len(raw))
	for _, s := range raw {
		t, err := schedule.ParseTimeOfDay(s)
		if err != nil {
			return nil, false
		}
		slots = append(slots, t)
	}

	return slots, true
}

func (c *AvailabilityCache) Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []schedule.TimeOfDay) {
	raw := make([]string, 0, len(slots))
	for _, t := range slots {
		raw = append(raw, t.String())
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, availabilityKey(doctorID, date), data, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Msg("availability cache write failed")
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if err := c.client.Del(ctx, availabilityKey(doctorID, date)).Err(); err != nil {
		c.log.Debug().Err(err).Msg("availability cache invalidation failed")
	}
}
