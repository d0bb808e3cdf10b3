package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	pkgredis "github.com/prohmpiriya/reservation-engine/pkg/redis"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// ErrCacheMiss is returned by AvailabilityCache reads with nothing cached
var ErrCacheMiss = pkgredis.ErrCacheMiss

// RedisAvailabilityCache implements AvailabilityCache using Redis JSON values with a TTL
type RedisAvailabilityCache struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisAvailabilityCache creates a new RedisAvailabilityCache
func NewRedisAvailabilityCache(client *pkgredis.Client, ttl time.Duration) *RedisAvailabilityCache {
	return &RedisAvailabilityCache{client: client, ttl: ttl}
}

func eventAvailabilityKey(eventID string) string {
	return fmt.Sprintf("availability:event:%s", eventID)
}

func showtimeAvailabilityKey(showtimeID string) string {
	return fmt.Sprintf("availability:showtime:%s", showtimeID)
}

func (c *RedisAvailabilityCache) GetEvent(ctx context.Context, eventID string) (*EventAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.get_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	var a EventAvailability
	if err := c.client.GetJSON(ctx, eventAvailabilityKey(eventID), &a); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			telemetry.SetSpanError(span, err)
		}
		return nil, err
	}
	return &a, nil
}

func (c *RedisAvailabilityCache) SetEvent(ctx context.Context, a *EventAvailability) error {
	return c.client.SetJSON(ctx, eventAvailabilityKey(a.EventID), a, c.ttl)
}

func (c *RedisAvailabilityCache) GetShowtime(ctx context.Context, showtimeID string) (*ShowtimeAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.availability.get_showtime")
	defer span.End()
	span.SetAttributes(attribute.String("showtime_id", showtimeID))

	var a ShowtimeAvailability
	if err := c.client.GetJSON(ctx, showtimeAvailabilityKey(showtimeID), &a); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			telemetry.SetSpanError(span, err)
		}
		return nil, err
	}
	return &a, nil
}

func (c *RedisAvailabilityCache) SetShowtime(ctx context.Context, a *ShowtimeAvailability) error {
	return c.client.SetJSON(ctx, showtimeAvailabilityKey(a.ShowtimeID), a, c.ttl)
}

// Invalidate drops the snapshot for the booking's target
func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, target domain.BookingTarget) error {
	if id, ok := target.EventID(); ok {
		return c.client.Delete(ctx, eventAvailabilityKey(id))
	}
	if id, ok := target.ShowtimeID(); ok {
		return c.client.Delete(ctx, showtimeAvailabilityKey(id))
	}
	return nil
}

// NoopAvailabilityCache always misses. It is used when Redis is disabled.
type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) GetEvent(context.Context, string) (*EventAvailability, error) {
	return nil, ErrCacheMiss
}
func (NoopAvailabilityCache) SetEvent(context.Context, *EventAvailability) error { return nil }
func (NoopAvailabilityCache) GetShowtime(context.Context, string) (*ShowtimeAvailability, error) {
	return nil, ErrCacheMiss
}
func (NoopAvailabilityCache) SetShowtime(context.Context, *ShowtimeAvailability) error { return nil }
func (NoopAvailabilityCache) Invalidate(context.Context, domain.BookingTarget) error   { return nil }

var (
	_ AvailabilityCache = (*RedisAvailabilityCache)(nil)
	_ AvailabilityCache = NoopAvailabilityCache{}
)
