package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
)

// fakeCache is an in-process AvailabilityCache
type fakeCache struct {
	events      map[string]*repository.EventAvailability
	showtimes   map[string]*repository.ShowtimeAvailability
	invalidated []domain.BookingTarget
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		events:    make(map[string]*repository.EventAvailability),
		showtimes: make(map[string]*repository.ShowtimeAvailability),
	}
}

func (c *fakeCache) GetEvent(_ context.Context, id string) (*repository.EventAvailability, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	if a, ok := c.events[id]; ok {
		return a, nil
	}
	return nil, repository.ErrCacheMiss
}

func (c *fakeCache) SetEvent(_ context.Context, a *repository.EventAvailability) error {
	c.events[a.EventID] = a
	return nil
}

func (c *fakeCache) GetShowtime(_ context.Context, id string) (*repository.ShowtimeAvailability, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	if a, ok := c.showtimes[id]; ok {
		return a, nil
	}
	return nil, repository.ErrCacheMiss
}

func (c *fakeCache) SetShowtime(_ context.Context, a *repository.ShowtimeAvailability) error {
	c.showtimes[a.ShowtimeID] = a
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, target domain.BookingTarget) error {
	c.invalidated = append(c.invalidated, target)
	if id, ok := target.EventID(); ok {
		delete(c.events, id)
	} else {
		delete(c.showtimes, target.ID())
	}
	return nil
}

func TestAvailability_EventReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	cache := newFakeCache()
	svc := NewAvailabilityService(f.store, cache, f.clock, logger.NewNop())
	engine := NewReservationEngine(f.store, cache, nil, &ReservationEngineConfig{FeePercent: 3, Clock: f.clock, Logger: logger.NewNop()})
	ctx := context.Background()

	a, err := svc.EventAvailability(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, a.TicketTypes, 2)
	assert.Equal(t, "general", a.TicketTypes[0].TicketTypeID)
	assert.Equal(t, 10, a.TicketTypes[0].Remaining)
	assert.Contains(t, cache.events, "evt-1")

	_, err = engine.Reserve(ctx, &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.BookingTarget{domain.EventTarget("evt-1")}, cache.invalidated)

	a, err = svc.EventAvailability(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 3, a.TicketTypes[0].Sold)
	assert.Equal(t, 7, a.TicketTypes[0].Remaining)
}

func TestAvailability_Showtime(t *testing.T) {
	f := newFixture(t)
	f.reserveSeats(t, "B2", "A1")
	svc := NewAvailabilityService(f.store, nil, f.clock, logger.NewNop())

	a, err := svc.ShowtimeAvailability(context.Background(), "show-1")
	require.NoError(t, err)
	assert.Equal(t, 14, a.TotalSeats)
	assert.Equal(t, 12, a.AvailableSeats)
	assert.Equal(t, []string{"A1", "B2"}, a.BookedSeats)
	assert.Equal(t, testNow, a.CheckedAt)
}

func TestAvailability_CacheErrorsFallBackToStore(t *testing.T) {
	f := newFixture(t)
	cache := newFakeCache()
	cache.getErr = errors.New("redis: connection refused")
	svc := NewAvailabilityService(f.store, cache, f.clock, logger.NewNop())

	a, err := svc.ShowtimeAvailability(context.Background(), "show-1")
	require.NoError(t, err)
	assert.Equal(t, 14, a.AvailableSeats)

	_, err = svc.EventAvailability(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
