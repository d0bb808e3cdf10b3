package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// PostgresStore implements Store on PostgreSQL. Row locks are
// SELECT ... FOR UPDATE inside READ COMMITTED transactions.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresStoreOption configures a PostgresStore
type PostgresStoreOption func(*PostgresStore)

// WithLockTimeout bounds how long a transaction waits for a row lock.
// Zero waits until the deadlock detector or the context intervenes.
func WithLockTimeout(d time.Duration) PostgresStoreOption {
	return func(s *PostgresStore) { s.lockTimeout = d }
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresStoreOption) *PostgresStore {
	s := &PostgresStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// querier is satisfied by both the pool and a pgx.Tx
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	eventColumns      = `id, name, status, starts_at, currency`
	ticketTypeColumns = `id, event_id, name, price, quantity_available, quantity_sold`
	showtimeColumns   = `id, title, starts_at, active, base_price, currency, layout, total_seats, available_seats, booked_seats`
	discountColumns   = `id, event_id, code, name, type, percent, amount, valid_from, valid_until, active, max_uses, current_uses, created_at`
	bookingColumns    = `id, customer_id, kind, event_id, showtime_id, reference, subtotal, discount_amount, fees, total,
		currency, discount_id, payment_status, status, payment_ref, refund_amount, refund_quote_amount, refund_quote_percent,
		cancellation_reason, idempotency_key, confirmed_at, cancelled_at, created_at, updated_at`
	ticketColumns = `id, booking_id, ticket_type_id, seat_id, price, status, ticket_number, created_at`
)

// GetEvent retrieves an event by its ID
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.get_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", id))

	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, mapPgError("get event", err)
	}
	return e, nil
}

// GetShowtime retrieves a showtime with its seat map
func (s *PostgresStore) GetShowtime(ctx context.Context, id string) (*domain.Showtime, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.get_showtime")
	defer span.End()
	span.SetAttributes(attribute.String("showtime_id", id))

	st, err := getShowtime(ctx, s.pool, id, false)
	if err != nil && !errors.Is(err, domain.ErrShowtimeNotFound) {
		telemetry.SetSpanError(span, err)
	}
	return st, err
}

// ListTicketTypes retrieves all ticket types of an event ordered by id
func (s *PostgresStore) ListTicketTypes(ctx context.Context, eventID string) ([]*domain.TicketType, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.list_ticket_types")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	rows, err := s.pool.Query(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, mapPgError("list ticket types", err)
	}
	return collectTicketTypes(rows)
}

// GetBooking retrieves a booking by its ID
func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.get_booking")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	return getBooking(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetBookingByIdempotencyKey retrieves the booking created under key
func (s *PostgresStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.get_booking_by_idempotency_key")
	defer span.End()

	return getBooking(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = $1`, key)
}

// ListTickets retrieves a booking's ticket lines
func (s *PostgresStore) ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.list_tickets")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	return listTickets(ctx, s.pool, bookingID)
}

// FindDiscountByCode retrieves an event's promo discount by code
func (s *PostgresStore) FindDiscountByCode(ctx context.Context, eventID, code string) (*domain.Discount, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.find_discount_by_code")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	d, err := scanDiscount(s.pool.QueryRow(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE event_id = $1 AND code = $2`, eventID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDiscountNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, mapPgError("find discount", err)
	}
	return d, nil
}

// Begin starts a READ COMMITTED transaction
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapPgError("begin transaction", err)
	}
	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, mapPgError("set lock timeout", err)
		}
	}
	return &postgresTx{tx: tx}, nil
}

// postgresTx implements Tx over a pgx.Tx
type postgresTx struct {
	tx pgx.Tx
}

// LockTicketTypes locks the rows in id order
func (t *postgresTx) LockTicketTypes(ctx context.Context, ids []string) ([]*domain.TicketType, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.lock_ticket_types")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("ticket_type_ids", ids))

	rows, err := t.tx.Query(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, mapPgError("lock ticket types", err)
	}
	types, err := collectTicketTypes(rows)
	if err != nil {
		telemetry.SetSpanError(span, err)
	}
	return types, err
}

func (t *postgresTx) LockShowtime(ctx context.Context, id string) (*domain.Showtime, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.lock_showtime")
	defer span.End()
	span.SetAttributes(attribute.String("showtime_id", id))

	st, err := getShowtime(ctx, t.tx, id, true)
	if err != nil && !errors.Is(err, domain.ErrShowtimeNotFound) {
		telemetry.SetSpanError(span, err)
	}
	return st, err
}

func (t *postgresTx) LockDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.lock_discount")
	defer span.End()
	span.SetAttributes(attribute.String("discount_id", id))

	d, err := scanDiscount(t.tx.QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDiscountNotFound
		}
		telemetry.SetSpanError(span, err)
		return nil, mapPgError("lock discount", err)
	}
	return d, nil
}

func (t *postgresTx) LockBooking(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.lock_booking")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	return getBooking(ctx, t.tx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (t *postgresTx) ListCategoryDiscounts(ctx context.Context, eventID string) ([]*domain.Discount, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE event_id = $1 AND code IS NULL AND active ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, mapPgError("list category discounts", err)
	}
	defer rows.Close()

	var discounts []*domain.Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, mapPgError("scan discount", err)
		}
		discounts = append(discounts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate discounts", err)
	}
	return discounts, nil
}

func (t *postgresTx) ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error) {
	return listTickets(ctx, t.tx, bookingID)
}

func (t *postgresTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE reference = $1)`, reference).Scan(&exists)
	if err != nil {
		return false, mapPgError("check reference", err)
	}
	return exists, nil
}

func (t *postgresTx) TicketNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE ticket_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, mapPgError("check ticket number", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.insert_booking")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking_id", b.ID),
		attribute.String("reference", b.Reference),
	)

	eventID, showtimeID := targetColumns(b.Target)
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err := t.tx.Exec(ctx, query,
		b.ID,
		b.CustomerID,
		b.Target.Kind().String(),
		eventID,
		showtimeID,
		b.Reference,
		int64(b.Subtotal),
		int64(b.DiscountAmount),
		int64(b.Fees),
		int64(b.Total),
		b.Currency,
		nullString(b.DiscountID),
		b.PaymentStatus.String(),
		b.Status.String(),
		nullString(b.PaymentRef),
		int64(b.RefundAmount),
		int64(b.RefundQuoteAmount),
		b.RefundQuotePercent,
		nullString(b.CancellationReason),
		nullString(b.IdempotencyKey),
		b.ConfirmedAt,
		b.CancelledAt,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return mapPgError("insert booking", err)
	}
	return nil
}

// InsertTickets writes all lines with one batch round trip
func (t *postgresTx) InsertTickets(ctx context.Context, tickets []*domain.TicketLine) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.insert_tickets")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(tickets)))

	query := `INSERT INTO tickets (` + ticketColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	batch := &pgx.Batch{}
	for _, tl := range tickets {
		batch.Queue(query,
			tl.ID,
			tl.BookingID,
			nullString(tl.TicketTypeID),
			nullString(tl.SeatID),
			int64(tl.Price),
			tl.Status.String(),
			tl.TicketNumber,
			tl.CreatedAt,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for range tickets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			telemetry.SetSpanError(span, err)
			return mapPgError("insert ticket", err)
		}
	}
	if err := br.Close(); err != nil {
		return mapPgError("insert tickets", err)
	}
	return nil
}

func (t *postgresTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.update_booking")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", b.ID))

	query := `
		UPDATE bookings SET
			discount_id = $2,
			payment_status = $3,
			status = $4,
			payment_ref = $5,
			refund_amount = $6,
			refund_quote_amount = $7,
			refund_quote_percent = $8,
			cancellation_reason = $9,
			confirmed_at = $10,
			cancelled_at = $11,
			updated_at = $12
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query,
		b.ID,
		nullString(b.DiscountID),
		b.PaymentStatus.String(),
		b.Status.String(),
		nullString(b.PaymentRef),
		int64(b.RefundAmount),
		int64(b.RefundQuoteAmount),
		b.RefundQuotePercent,
		nullString(b.CancellationReason),
		b.ConfirmedAt,
		b.CancelledAt,
		b.UpdatedAt,
	)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return mapPgError("update booking", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (t *postgresTx) UpdateTicketStatus(ctx context.Context, bookingID string, from, to domain.TicketStatus) (int, error) {
	if err := domain.ValidateTicketTransition(from, to); err != nil {
		return 0, err
	}
	result, err := t.tx.Exec(ctx,
		`UPDATE tickets SET status = $3 WHERE booking_id = $1 AND status = $2`,
		bookingID, from.String(), to.String())
	if err != nil {
		return 0, mapPgError("update ticket status", err)
	}
	return int(result.RowsAffected()), nil
}

func (t *postgresTx) UpdateTicketTypeSold(ctx context.Context, id string, sold int) error {
	result, err := t.tx.Exec(ctx, `UPDATE ticket_types SET quantity_sold = $2 WHERE id = $1`, id, sold)
	if err != nil {
		return mapPgError("update ticket type", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTicketTypeNotFound
	}
	return nil
}

func (t *postgresTx) UpdateShowtimeSeats(ctx context.Context, id string, booked []string, available int) error {
	if booked == nil {
		booked = []string{}
	}
	result, err := t.tx.Exec(ctx,
		`UPDATE showtimes SET booked_seats = $2, available_seats = $3 WHERE id = $1`, id, booked, available)
	if err != nil {
		return mapPgError("update showtime seats", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrShowtimeNotFound
	}
	return nil
}

func (t *postgresTx) UpdateDiscountUses(ctx context.Context, id string, uses int) error {
	result, err := t.tx.Exec(ctx, `UPDATE discounts SET current_uses = $2 WHERE id = $1`, id, uses)
	if err != nil {
		return mapPgError("update discount uses", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDiscountNotFound
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapPgError("commit transaction", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return mapPgError("rollback transaction", err)
	}
	return nil
}

func getShowtime(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Showtime, error) {
	query := `SELECT ` + showtimeColumns + ` FROM showtimes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	st := &domain.Showtime{}
	var (
		basePrice int64
		layout    []byte
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&st.ID,
		&st.Title,
		&st.StartsAt,
		&st.Active,
		&basePrice,
		&st.Currency,
		&layout,
		&st.TotalSeats,
		&st.AvailableSeats,
		&st.BookedSeats,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrShowtimeNotFound
		}
		return nil, mapPgError("get showtime", err)
	}
	if err := json.Unmarshal(layout, &st.Layout); err != nil {
		return nil, fmt.Errorf("failed to decode layout of showtime %s: %w", id, err)
	}
	st.BasePrice = domain.Money(basePrice)
	return st, nil
}

func getBooking(ctx context.Context, q querier, query string, arg string) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, mapPgError("get booking", err)
	}
	return b, nil
}

func listTickets(ctx context.Context, q querier, bookingID string) ([]*domain.TicketLine, error) {
	rows, err := q.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE booking_id = $1 ORDER BY ticket_number`, bookingID)
	if err != nil {
		return nil, mapPgError("list tickets", err)
	}
	defer rows.Close()

	var tickets []*domain.TicketLine
	for rows.Next() {
		tl := &domain.TicketLine{}
		var (
			ticketTypeID *string
			seatID       *string
			price        int64
			status       string
		)
		if err := rows.Scan(&tl.ID, &tl.BookingID, &ticketTypeID, &seatID, &price, &status, &tl.TicketNumber, &tl.CreatedAt); err != nil {
			return nil, mapPgError("scan ticket", err)
		}
		if ticketTypeID != nil {
			tl.TicketTypeID = *ticketTypeID
		}
		if seatID != nil {
			tl.SeatID = *seatID
		}
		tl.Price = domain.Money(price)
		tl.Status = domain.TicketStatus(status)
		tickets = append(tickets, tl)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate tickets", err)
	}
	return tickets, nil
}

func collectTicketTypes(rows pgx.Rows) ([]*domain.TicketType, error) {
	defer rows.Close()

	var types []*domain.TicketType
	for rows.Next() {
		tt := &domain.TicketType{}
		var price int64
		if err := rows.Scan(&tt.ID, &tt.EventID, &tt.Name, &price, &tt.QuantityAvailable, &tt.QuantitySold); err != nil {
			return nil, mapPgError("scan ticket type", err)
		}
		tt.Price = domain.Money(price)
		types = append(types, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate ticket types", err)
	}
	return types, nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	e := &domain.Event{}
	var status string
	if err := row.Scan(&e.ID, &e.Name, &status, &e.StartsAt, &e.Currency); err != nil {
		return nil, err
	}
	e.Status = domain.EventStatus(status)
	return e, nil
}

func scanDiscount(row pgx.Row) (*domain.Discount, error) {
	d := &domain.Discount{}
	var (
		code       *string
		kind       string
		amount     int64
		validFrom  *time.Time
		validUntil *time.Time
	)
	err := row.Scan(
		&d.ID,
		&d.EventID,
		&code,
		&d.Name,
		&kind,
		&d.Percent,
		&amount,
		&validFrom,
		&validUntil,
		&d.Active,
		&d.MaxUses,
		&d.CurrentUses,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if code != nil {
		d.Code = *code
	}
	if validFrom != nil {
		d.ValidFrom = *validFrom
	}
	if validUntil != nil {
		d.ValidUntil = *validUntil
	}
	d.Type = domain.DiscountType(kind)
	d.Amount = domain.Money(amount)
	return d, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var (
		kind                                  string
		eventID, showtimeID                   *string
		subtotal, discountAmount, fees, total int64
		refundAmount, refundQuote             int64
		discountID, paymentRef, reason, idemp *string
		paymentStatus, status                 string
	)
	err := row.Scan(
		&b.ID,
		&b.CustomerID,
		&kind,
		&eventID,
		&showtimeID,
		&b.Reference,
		&subtotal,
		&discountAmount,
		&fees,
		&total,
		&b.Currency,
		&discountID,
		&paymentStatus,
		&status,
		&paymentRef,
		&refundAmount,
		&refundQuote,
		&b.RefundQuotePercent,
		&reason,
		&idemp,
		&b.ConfirmedAt,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	targetID := ""
	switch {
	case eventID != nil:
		targetID = *eventID
	case showtimeID != nil:
		targetID = *showtimeID
	}
	target, err := domain.NewBookingTarget(domain.BookingKind(kind), targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: booking %s has malformed target: %v", domain.ErrInvariantViolation, b.ID, err)
	}

	b.Target = target
	b.Subtotal = domain.Money(subtotal)
	b.DiscountAmount = domain.Money(discountAmount)
	b.Fees = domain.Money(fees)
	b.Total = domain.Money(total)
	b.RefundAmount = domain.Money(refundAmount)
	b.RefundQuoteAmount = domain.Money(refundQuote)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.Status = domain.BookingStatus(status)
	b.DiscountID = deref(discountID)
	b.PaymentRef = deref(paymentRef)
	b.CancellationReason = deref(reason)
	b.IdempotencyKey = deref(idemp)
	return b, nil
}

func targetColumns(t domain.BookingTarget) (eventID, showtimeID *string) {
	if id, ok := t.EventID(); ok {
		return &id, nil
	}
	if id, ok := t.ShowtimeID(); ok {
		return nil, &id
	}
	return nil, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
