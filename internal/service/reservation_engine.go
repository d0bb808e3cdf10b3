package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/inventory"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// Selection asks for Quantity units of one ticket type
type Selection struct {
	TicketTypeID string
	Quantity     int
}

// ReserveRequest is one reservation attempt. Event bookings carry
// Selections, movie bookings carry Seats.
type ReserveRequest struct {
	CustomerID     string
	Kind           domain.BookingKind
	TargetID       string
	Selections     []Selection
	Seats          []string
	PromoCode      string
	IdempotencyKey string
}

// ReserveResult is a committed (or replayed) booking with its tickets
type ReserveResult struct {
	Booking   *domain.Booking
	Tickets   []*domain.TicketLine
	Breakdown []pricing.Line
	Replayed  bool
}

// ReservationEngine creates bookings against scarce inventory
type ReservationEngine interface {
	Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error)
}

// DefaultMaxTickets is the per-booking ticket cap when none is configured
const DefaultMaxTickets = 20

// ReservationEngineConfig holds configuration for the reservation engine
type ReservationEngineConfig struct {
	FeePercent      float64
	DefaultCurrency string
	// MaxTickets caps the tickets one booking may issue
	MaxTickets int
	Clock      clock.Clock
	Codes      CodeGenerator
	Logger     *logger.Logger
}

type reservationEngine struct {
	store    repository.Store
	cache    repository.AvailabilityCache
	calc     *pricing.Calculator
	codes    CodeGenerator
	clock    clock.Clock
	currency string
	max      int
	log      *logger.Logger
	notify   notifier
}

// NewReservationEngine creates a new ReservationEngine
func NewReservationEngine(
	store repository.Store,
	cache repository.AvailabilityCache,
	queue NotificationQueue,
	cfg *ReservationEngineConfig,
) ReservationEngine {
	if cfg == nil {
		cfg = &ReservationEngineConfig{FeePercent: pricing.DefaultFeePercent}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	codes := cfg.Codes
	if codes == nil {
		codes = NewRandomCodeGenerator()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	currency := cfg.DefaultCurrency
	if currency == "" {
		currency = "THB"
	}
	maxTickets := cfg.MaxTickets
	if maxTickets <= 0 {
		maxTickets = DefaultMaxTickets
	}

	return &reservationEngine{
		store:    store,
		cache:    cache,
		calc:     pricing.NewCalculator(cfg.FeePercent),
		codes:    codes,
		clock:    clk,
		currency: currency,
		max:      maxTickets,
		log:      log,
		notify:   notifier{queue: queue, clock: clk, log: log},
	}
}

// reservationPlan is what the unlocked validation pass hands to the locked pass
type reservationPlan struct {
	target     domain.BookingTarget
	currency   string
	order      []string
	quantities map[string]int
	promo      *domain.Discount
	seats      []string
}

// Reserve validates, locks, prices and writes one booking in a single transaction
func (e *reservationEngine) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.reserve")
	defer span.End()
	defer metrics.TrackInFlight(ctx)()

	start := time.Now()
	kind := ""
	if req != nil {
		kind = req.Kind.String()
		span.SetAttributes(
			attribute.String("booking.kind", kind),
			attribute.String("booking.target_id", req.TargetID),
		)
	}

	result, err := e.reserve(ctx, req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		category := domain.CategoryOf(err)
		metrics.RecordReservationFailure(ctx, kind, category.String())
		switch category {
		case domain.CategoryContention:
			e.log.Warn("Reservation lost to contention", "kind", kind, "error", err)
		case domain.CategoryUnknown, domain.CategoryInvariant:
			e.log.Error("Reservation failed", "kind", kind, "error", err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("booking.id", result.Booking.ID))
	if result.Replayed {
		metrics.RecordReplay(ctx)
		return result, nil
	}
	metrics.RecordReservation(ctx, kind, len(result.Tickets), time.Since(start).Seconds())
	return result, nil
}

func (e *reservationEngine) reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	target, err := validateReserveRequest(req, e.max)
	if err != nil {
		return nil, err
	}

	// Check idempotency first
	if req.IdempotencyKey != "" {
		if replayed, err := e.replay(ctx, req); err != nil || replayed != nil {
			return replayed, err
		}
	}

	var plan *reservationPlan
	switch target.Kind() {
	case domain.BookingKindEvent:
		plan, err = e.checkEvent(ctx, target, req)
	default:
		plan, err = e.checkShowtime(ctx, target, req)
	}
	if err != nil {
		return nil, err
	}

	result, err := e.write(ctx, req, plan)
	if err != nil && req.IdempotencyKey != "" && errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first
		if replayed, rerr := e.replay(ctx, req); rerr != nil || replayed != nil {
			return replayed, rerr
		}
	}
	return result, err
}

// replay returns the booking already committed under the request's key, or nil
func (e *reservationEngine) replay(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	existing, err := e.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.CustomerID != req.CustomerID {
		return nil, domain.NewValidationError("idempotency_key", "idempotency key belongs to another customer")
	}

	tickets, err := e.store.ListTickets(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	e.log.Info("Replayed reservation", "booking_id", existing.ID, "idempotency_key", req.IdempotencyKey)
	return &ReserveResult{Booking: existing, Tickets: tickets, Replayed: true}, nil
}

func validateReserveRequest(req *ReserveRequest, maxTickets int) (domain.BookingTarget, error) {
	if req == nil {
		return domain.BookingTarget{}, domain.NewValidationError("", "request is required")
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.BookingTarget{}, domain.NewValidationError("customer_id", "customer id is required")
	}
	target, err := domain.NewBookingTarget(req.Kind, req.TargetID)
	if err != nil {
		return domain.BookingTarget{}, err
	}

	switch target.Kind() {
	case domain.BookingKindEvent:
		if len(req.Seats) > 0 {
			return target, domain.NewValidationError("seats", "seats are only accepted for movie bookings")
		}
		if len(req.Selections) == 0 {
			return target, domain.NewValidationError("selections", "at least one ticket type is required")
		}
		seen := make(map[string]struct{}, len(req.Selections))
		total := 0
		for _, s := range req.Selections {
			if s.TicketTypeID == "" {
				return target, domain.NewValidationError("ticket_type_id", "ticket type id is required")
			}
			if s.Quantity <= 0 {
				return target, domain.NewValidationError("quantity", "quantity must be positive")
			}
			if _, dup := seen[s.TicketTypeID]; dup {
				return target, domain.NewValidationError("selections", "duplicate ticket type "+s.TicketTypeID)
			}
			seen[s.TicketTypeID] = struct{}{}
			total += s.Quantity
		}
		if total > maxTickets {
			return target, domain.NewValidationError("quantity", fmt.Sprintf("at most %d tickets per booking", maxTickets))
		}
	case domain.BookingKindMovie:
		if len(req.Selections) > 0 {
			return target, domain.NewValidationError("selections", "ticket types are only accepted for event bookings")
		}
		if req.PromoCode != "" {
			return target, domain.NewValidationError("promo_code", "promo codes apply to event bookings only")
		}
		if len(req.Seats) == 0 {
			return target, domain.NewValidationError("seats", "at least one seat is required")
		}
		if len(req.Seats) > maxTickets {
			return target, domain.NewValidationError("seats", fmt.Sprintf("at most %d seats per booking", maxTickets))
		}
		seen := make(map[string]struct{}, len(req.Seats))
		for _, seat := range req.Seats {
			if _, dup := seen[seat]; dup {
				return target, domain.NewValidationError("seats", "duplicate seat "+seat)
			}
			seen[seat] = struct{}{}
		}
	}
	return target, nil
}

// checkEvent runs the unlocked precondition checks for an event booking
func (e *reservationEngine) checkEvent(ctx context.Context, target domain.BookingTarget, req *ReserveRequest) (*reservationPlan, error) {
	event, err := e.store.GetEvent(ctx, target.ID())
	if err != nil {
		return nil, err
	}
	if !event.IsBookableAt(e.clock.Now()) {
		return nil, fmt.Errorf("%w: event %s is %s", domain.ErrNotBookable, event.ID, event.Status)
	}

	plan := &reservationPlan{
		target:     target,
		currency:   event.Currency,
		order:      make([]string, 0, len(req.Selections)),
		quantities: make(map[string]int, len(req.Selections)),
	}
	for _, s := range req.Selections {
		plan.order = append(plan.order, s.TicketTypeID)
		plan.quantities[s.TicketTypeID] = s.Quantity
	}

	if code := strings.TrimSpace(req.PromoCode); code != "" {
		promo, err := e.store.FindDiscountByCode(ctx, event.ID, code)
		if errors.Is(err, domain.ErrDiscountNotFound) {
			return nil, domain.NewValidationError("promo_code", "unknown promo code")
		}
		if err != nil {
			return nil, err
		}
		plan.promo = promo
	}
	return plan, nil
}

// checkShowtime runs the unlocked precondition checks for a movie booking
func (e *reservationEngine) checkShowtime(ctx context.Context, target domain.BookingTarget, req *ReserveRequest) (*reservationPlan, error) {
	showtime, err := e.store.GetShowtime(ctx, target.ID())
	if err != nil {
		return nil, err
	}
	if !showtime.IsBookableAt(e.clock.Now()) {
		return nil, fmt.Errorf("%w: showtime %s is not open for booking", domain.ErrNotBookable, showtime.ID)
	}
	if invalid := showtime.Layout.InvalidSeats(req.Seats); len(invalid) > 0 {
		return nil, &domain.InvalidSeatError{Seats: invalid}
	}

	return &reservationPlan{
		target:   target,
		currency: showtime.Currency,
		seats:    append([]string(nil), req.Seats...),
	}, nil
}

// write locks the inventory rows, prices under the locks and commits the booking
func (e *reservationEngine) write(ctx context.Context, req *ReserveRequest, plan *reservationPlan) (*ReserveResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lock := inventory.New(tx)
	now := e.clock.Now()

	var quote pricing.Quote
	if plan.target.Kind() == domain.BookingKindEvent {
		quote, err = e.holdTicketTypes(ctx, tx, lock, plan, now)
	} else {
		quote, err = e.holdSeats(ctx, lock, plan, now)
	}
	if err != nil {
		return nil, err
	}

	currency := plan.currency
	if currency == "" {
		currency = e.currency
	}
	booking := &domain.Booking{
		ID:             uuid.New().String(),
		CustomerID:     req.CustomerID,
		Target:         plan.target,
		Subtotal:       quote.Subtotal,
		DiscountAmount: quote.Discount,
		Fees:           quote.Fee,
		Total:          quote.Total,
		Currency:       currency,
		PaymentStatus:  domain.PaymentStatusPending,
		Status:         domain.BookingStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if quote.Applied != nil {
		booking.DiscountID = quote.Applied.ID
	}
	if err := booking.CheckTotals(); err != nil {
		e.log.DPanic("Computed booking totals are inconsistent",
			"booking_id", booking.ID,
			"target", plan.target.String(),
			"error", err,
		)
		return nil, err
	}

	booking.Reference, err = uniqueCode(ctx, e.codes.Reference, tx.ReferenceExists, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate booking reference: %w", err)
	}
	tickets, err := e.issueTickets(ctx, tx, booking, quote.Breakdown, now)
	if err != nil {
		return nil, err
	}

	if err := tx.InsertBooking(ctx, booking); err != nil {
		return nil, err
	}
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return nil, err
	}
	if err := lock.Flush(ctx); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if err := e.cache.Invalidate(ctx, booking.Target); err != nil {
		e.log.Warn("Failed to invalidate availability cache", "target", booking.Target.String(), "error", err)
	}
	e.notify.send(ctx, domain.TemplateBookingConfirmation, booking)
	e.log.Info("Booking reserved",
		"booking_id", booking.ID,
		"reference", booking.Reference,
		"target", booking.Target.String(),
		"tickets", len(tickets),
		"total", booking.Total.String(),
	)

	return &ReserveResult{Booking: booking, Tickets: tickets, Breakdown: quote.Breakdown}, nil
}

// holdTicketTypes consumes quota and the applied discount's use for an event booking
func (e *reservationEngine) holdTicketTypes(ctx context.Context, tx repository.Tx, lock *inventory.Lock, plan *reservationPlan, now time.Time) (pricing.Quote, error) {
	eventID := plan.target.ID()
	ticketTypes, err := lock.TicketTypes(ctx, plan.order)
	if err != nil {
		return pricing.Quote{}, err
	}
	for _, id := range plan.order {
		if ticketTypes[id].EventID != eventID {
			return pricing.Quote{}, fmt.Errorf("%w: %s is not offered by event %s", domain.ErrTicketTypeNotFound, id, eventID)
		}
	}
	if err := lock.ConsumeQuota(plan.quantities); err != nil {
		return pricing.Quote{}, err
	}

	candidates, err := tx.ListCategoryDiscounts(ctx, eventID)
	if err != nil {
		return pricing.Quote{}, err
	}
	lines := pricing.EventLines(ticketTypes, plan.quantities, plan.order)
	quote, err := e.priceWithDiscount(ctx, lock, lines, candidates, plan.promo, now)
	if err != nil {
		return pricing.Quote{}, err
	}
	if quote.Applied != nil {
		if err := lock.ConsumeDiscountUse(quote.Applied.ID); err != nil {
			return pricing.Quote{}, err
		}
	}
	return quote, nil
}

// priceWithDiscount locks every discount that could apply, in id order and
// in one step, then quotes against the locked rows. A discount found expired
// or exhausted once locked drops out and the next best one applies.
func (e *reservationEngine) priceWithDiscount(
	ctx context.Context,
	lock *inventory.Lock,
	lines []pricing.Line,
	candidates []*domain.Discount,
	promo *domain.Discount,
	now time.Time,
) (pricing.Quote, error) {
	var ids []string
	for _, d := range candidates {
		if !d.IsPromo() && d.IsValidAt(now) {
			ids = append(ids, d.ID)
		}
	}
	if promo != nil && promo.IsValidAt(now) {
		ids = append(ids, promo.ID)
	}
	if len(ids) == 0 {
		return e.calc.Quote(pricing.Input{Lines: lines, Now: now}), nil
	}

	held, err := lock.Discounts(ctx, ids)
	if err != nil {
		return pricing.Quote{}, err
	}
	locked := make([]*domain.Discount, 0, len(candidates))
	for _, d := range candidates {
		if h, ok := held[d.ID]; ok && !h.IsPromo() {
			locked = append(locked, h)
		}
	}
	var lockedPromo *domain.Discount
	if promo != nil {
		lockedPromo = held[promo.ID]
	}

	quote := e.calc.Quote(pricing.Input{Lines: lines, Candidates: locked, Promo: lockedPromo, Now: now})
	seen := e.calc.Quote(pricing.Input{Lines: lines, Candidates: candidates, Promo: promo, Now: now})
	if seen.Applied != nil && (quote.Applied == nil || quote.Applied.ID != seen.Applied.ID) {
		metrics.RecordDiscountDowngrade(ctx, seen.Applied.ID)
		e.log.Info("Discount no longer valid under lock, repricing", "discount_id", seen.Applied.ID)
	}
	return quote, nil
}

// holdSeats books the requested seats on the locked showtime
func (e *reservationEngine) holdSeats(ctx context.Context, lock *inventory.Lock, plan *reservationPlan, now time.Time) (pricing.Quote, error) {
	showtime, err := lock.Showtime(ctx, plan.target.ID())
	if err != nil {
		return pricing.Quote{}, err
	}
	if !showtime.IsBookableAt(now) {
		return pricing.Quote{}, fmt.Errorf("%w: showtime %s is not open for booking", domain.ErrNotBookable, showtime.ID)
	}
	if err := lock.BookSeats(plan.seats); err != nil {
		return pricing.Quote{}, err
	}
	return e.calc.Quote(pricing.Input{Lines: pricing.SeatLines(showtime, plan.seats), Now: now}), nil
}

// issueTickets creates one ticket per unit of every priced line
func (e *reservationEngine) issueTickets(ctx context.Context, tx repository.Tx, b *domain.Booking, lines []pricing.Line, now time.Time) ([]*domain.TicketLine, error) {
	var count int
	for _, l := range lines {
		count += l.Quantity
	}

	tickets := make([]*domain.TicketLine, 0, count)
	taken := make(map[string]struct{}, count)
	for _, l := range lines {
		for i := 0; i < l.Quantity; i++ {
			number, err := uniqueCode(ctx, e.codes.TicketNumber, tx.TicketNumberExists, taken)
			if err != nil {
				return nil, fmt.Errorf("failed to generate ticket number: %w", err)
			}
			taken[number] = struct{}{}

			t := &domain.TicketLine{
				ID:           uuid.New().String(),
				BookingID:    b.ID,
				Price:        l.UnitPrice,
				Status:       domain.TicketStatusValid,
				TicketNumber: number,
				CreatedAt:    now,
			}
			if b.Target.Kind() == domain.BookingKindEvent {
				t.TicketTypeID = l.Ref
			} else {
				t.SeatID = l.Ref
			}
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}
