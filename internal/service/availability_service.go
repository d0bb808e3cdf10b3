package service

import (
	"context"
	"errors"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// AvailabilityService answers advisory "what is left" queries. Its answers
// are never used to decide a write.
type AvailabilityService interface {
	EventAvailability(ctx context.Context, eventID string) (*repository.EventAvailability, error)
	ShowtimeAvailability(ctx context.Context, showtimeID string) (*repository.ShowtimeAvailability, error)
}

type availabilityService struct {
	reader repository.Reader
	cache  repository.AvailabilityCache
	clock  clock.Clock
	log    *logger.Logger
}

// NewAvailabilityService creates a cache-aside AvailabilityService
func NewAvailabilityService(reader repository.Reader, cache repository.AvailabilityCache, clk clock.Clock, log *logger.Logger) AvailabilityService {
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &availabilityService{reader: reader, cache: cache, clock: clk, log: log}
}

func (s *availabilityService) EventAvailability(ctx context.Context, eventID string) (*repository.EventAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.event")
	defer span.End()

	cached, err := s.cache.GetEvent(ctx, eventID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn("Availability cache read failed", "event_id", eventID, "error", err)
	}

	event, err := s.reader.GetEvent(ctx, eventID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	ticketTypes, err := s.reader.ListTicketTypes(ctx, eventID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	a := &repository.EventAvailability{
		EventID:     event.ID,
		Status:      event.Status,
		TicketTypes: make([]repository.TicketTypeAvailability, 0, len(ticketTypes)),
		CheckedAt:   s.clock.Now(),
	}
	for _, tt := range ticketTypes {
		a.TicketTypes = append(a.TicketTypes, ticketTypeAvailability(tt))
	}

	if err := s.cache.SetEvent(ctx, a); err != nil {
		s.log.Warn("Availability cache write failed", "event_id", eventID, "error", err)
	}
	return a, nil
}

func (s *availabilityService) ShowtimeAvailability(ctx context.Context, showtimeID string) (*repository.ShowtimeAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.showtime")
	defer span.End()

	cached, err := s.cache.GetShowtime(ctx, showtimeID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn("Availability cache read failed", "showtime_id", showtimeID, "error", err)
	}

	showtime, err := s.reader.GetShowtime(ctx, showtimeID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	a := &repository.ShowtimeAvailability{
		ShowtimeID:     showtime.ID,
		TotalSeats:     showtime.TotalSeats,
		AvailableSeats: showtime.AvailableSeats,
		BookedSeats:    domain.SortedSeats(showtime.BookedSeats),
		CheckedAt:      s.clock.Now(),
	}
	if err := s.cache.SetShowtime(ctx, a); err != nil {
		s.log.Warn("Availability cache write failed", "showtime_id", showtimeID, "error", err)
	}
	return a, nil
}

func ticketTypeAvailability(tt *domain.TicketType) repository.TicketTypeAvailability {
	remaining := tt.Remaining()
	if remaining < 0 {
		remaining = 0
	}
	return repository.TicketTypeAvailability{
		TicketTypeID: tt.ID,
		Name:         tt.Name,
		Price:        tt.Price,
		Available:    tt.QuantityAvailable,
		Sold:         tt.QuantitySold,
		Remaining:    remaining,
	}
}
