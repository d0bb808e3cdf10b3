package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// MemoryStore implements Store in process memory. Each row has its own
// lock that blocks like SELECT ... FOR UPDATE, and transactions stage their
// writes until Commit, so concurrent callers observe the same serialization
// they would against PostgreSQL.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[string]domain.Event
	ticketTypes   map[string]domain.TicketType
	showtimes     map[string]domain.Showtime
	discounts     map[string]domain.Discount
	bookings      map[string]domain.Booking
	tickets       map[string][]domain.TicketLine
	references    map[string]string
	ticketNumbers map[string]struct{}
	idempotency   map[string]string

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]domain.Event),
		ticketTypes:   make(map[string]domain.TicketType),
		showtimes:     make(map[string]domain.Showtime),
		discounts:     make(map[string]domain.Discount),
		bookings:      make(map[string]domain.Booking),
		tickets:       make(map[string][]domain.TicketLine),
		references:    make(map[string]string),
		ticketNumbers: make(map[string]struct{}),
		idempotency:   make(map[string]string),
		locks:         make(map[string]chan struct{}),
	}
}

// AddEvent seeds an event
func (s *MemoryStore) AddEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

// AddTicketType seeds a ticket type
func (s *MemoryStore) AddTicketType(tt domain.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketTypes[tt.ID] = tt
}

// AddShowtime seeds a showtime. Seat counters are derived from the layout
// when TotalSeats is zero.
func (s *MemoryStore) AddShowtime(st domain.Showtime) {
	if st.TotalSeats == 0 {
		st.TotalSeats = st.Layout.Capacity()
		st.AvailableSeats = st.TotalSeats - len(st.BookedSeats)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showtimes[st.ID] = copyShowtime(st)
}

// AddDiscount seeds a discount
func (s *MemoryStore) AddDiscount(d domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[d.ID] = copyDiscount(d)
}

// GetDiscount returns the committed state of a discount
func (s *MemoryStore) GetDiscount(id string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.discounts[id]
	if !ok {
		return nil, domain.ErrDiscountNotFound
	}
	cp := copyDiscount(d)
	return &cp, nil
}

// Seed is a JSON fixture of inventory rows
type Seed struct {
	Events      []domain.Event      `json:"events"`
	TicketTypes []domain.TicketType `json:"ticket_types"`
	Showtimes   []domain.Showtime   `json:"showtimes"`
	Discounts   []domain.Discount   `json:"discounts"`
}

// LoadSeed reads a JSON Seed and adds every row
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for _, e := range seed.Events {
		s.AddEvent(e)
	}
	for _, tt := range seed.TicketTypes {
		s.AddTicketType(tt)
	}
	for _, st := range seed.Showtimes {
		s.AddShowtime(st)
	}
	for _, d := range seed.Discounts {
		s.AddDiscount(d)
	}
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

func (s *MemoryStore) GetShowtime(ctx context.Context, id string) (*domain.Showtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.showtimes[id]
	if !ok {
		return nil, domain.ErrShowtimeNotFound
	}
	cp := copyShowtime(st)
	return &cp, nil
}

func (s *MemoryStore) ListTicketTypes(ctx context.Context, eventID string) ([]*domain.TicketType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.TicketType
	for _, tt := range s.ticketTypes {
		if tt.EventID == eventID {
			cp := tt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (s *MemoryStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idempotency[key]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	b := s.bookings[id]
	return &b, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticketsOf(bookingID), nil
}

func (s *MemoryStore) FindDiscountByCode(ctx context.Context, eventID, code string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.discounts {
		if d.EventID == eventID && d.Code == code && code != "" {
			cp := copyDiscount(d)
			return &cp, nil
		}
	}
	return nil, domain.ErrDiscountNotFound
}

// Begin starts a transaction
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		store:      s,
		held:       make(map[string]chan struct{}),
		newNumbers: make(map[string]struct{}),
	}, nil
}

// ticketsOf must be called with mu held
func (s *MemoryStore) ticketsOf(bookingID string) []*domain.TicketLine {
	lines := s.tickets[bookingID]
	out := make([]*domain.TicketLine, 0, len(lines))
	for i := range lines {
		cp := lines[i]
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// memoryTx stages writes and holds row locks until Commit or Rollback
type memoryTx struct {
	store *MemoryStore
	held  map[string]chan struct{}
	ops   []func()
	done  bool

	newRefs    []string
	newKeys    []string
	newNumbers map[string]struct{}
}

func lockKey(table, id string) string { return table + ":" + id }

// lock blocks until the row is free or ctx ends. Re-locking a held row is a no-op.
func (t *memoryTx) lock(ctx context.Context, key string) error {
	if t.done {
		return fmt.Errorf("%w: transaction already closed", domain.ErrInvariantViolation)
	}
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.store.rowLock(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock on %s: %v", domain.ErrContention, key, ctx.Err())
	}
}

func (t *memoryTx) requireHeld(key string) error {
	if _, ok := t.held[key]; !ok {
		return fmt.Errorf("%w: write to %s without holding its lock", domain.ErrInvariantViolation, key)
	}
	return nil
}

func (t *memoryTx) LockTicketTypes(ctx context.Context, ids []string) ([]*domain.TicketType, error) {
	var out []*domain.TicketType
	for _, id := range ids {
		if err := t.lock(ctx, lockKey("ticket_types", id)); err != nil {
			return nil, err
		}
		t.store.mu.RLock()
		tt, ok := t.store.ticketTypes[id]
		t.store.mu.RUnlock()
		if ok {
			out = append(out, &tt)
		}
	}
	return out, nil
}

func (t *memoryTx) LockShowtime(ctx context.Context, id string) (*domain.Showtime, error) {
	if err := t.lock(ctx, lockKey("showtimes", id)); err != nil {
		return nil, err
	}
	return t.store.GetShowtime(ctx, id)
}

func (t *memoryTx) LockDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	if err := t.lock(ctx, lockKey("discounts", id)); err != nil {
		return nil, err
	}
	return t.store.GetDiscount(id)
}

func (t *memoryTx) LockBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if err := t.lock(ctx, lockKey("bookings", id)); err != nil {
		return nil, err
	}
	return t.store.GetBooking(ctx, id)
}

func (t *memoryTx) ListCategoryDiscounts(ctx context.Context, eventID string) ([]*domain.Discount, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	var out []*domain.Discount
	for _, d := range t.store.discounts {
		if d.EventID == eventID && !d.IsPromo() && d.Active {
			cp := copyDiscount(d)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error) {
	return t.store.ListTickets(ctx, bookingID)
}

func (t *memoryTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.references[reference]
	return ok, nil
}

func (t *memoryTx) TicketNumberExists(ctx context.Context, number string) (bool, error) {
	if _, ok := t.newNumbers[number]; ok {
		return true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.ticketNumbers[number]
	return ok, nil
}

func (t *memoryTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if err := b.Target.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err)
	}
	if err := b.CheckTotals(); err != nil {
		return err
	}
	cp := *b
	t.newRefs = append(t.newRefs, cp.Reference)
	if cp.IdempotencyKey != "" {
		t.newKeys = append(t.newKeys, cp.IdempotencyKey)
	}
	t.ops = append(t.ops, func() {
		t.store.bookings[cp.ID] = cp
		t.store.references[cp.Reference] = cp.ID
		if cp.IdempotencyKey != "" {
			t.store.idempotency[cp.IdempotencyKey] = cp.ID
		}
	})
	return nil
}

func (t *memoryTx) InsertTickets(ctx context.Context, tickets []*domain.TicketLine) error {
	lines := make([]domain.TicketLine, 0, len(tickets))
	for _, tl := range tickets {
		if _, ok := t.newNumbers[tl.TicketNumber]; ok {
			return domain.ErrDuplicateTicketNumber
		}
		t.newNumbers[tl.TicketNumber] = struct{}{}
		lines = append(lines, *tl)
	}
	t.ops = append(t.ops, func() {
		for _, tl := range lines {
			t.store.tickets[tl.BookingID] = append(t.store.tickets[tl.BookingID], tl)
			t.store.ticketNumbers[tl.TicketNumber] = struct{}{}
		}
	})
	return nil
}

func (t *memoryTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	if err := t.requireHeld(lockKey("bookings", b.ID)); err != nil {
		return err
	}
	cp := *b
	t.ops = append(t.ops, func() {
		if _, ok := t.store.bookings[cp.ID]; ok {
			t.store.bookings[cp.ID] = cp
		}
	})
	return nil
}

func (t *memoryTx) UpdateTicketStatus(ctx context.Context, bookingID string, from, to domain.TicketStatus) (int, error) {
	if err := domain.ValidateTicketTransition(from, to); err != nil {
		return 0, err
	}
	if err := t.requireHeld(lockKey("bookings", bookingID)); err != nil {
		return 0, err
	}

	t.store.mu.RLock()
	n := 0
	for _, tl := range t.store.tickets[bookingID] {
		if tl.Status == from {
			n++
		}
	}
	t.store.mu.RUnlock()

	t.ops = append(t.ops, func() {
		lines := t.store.tickets[bookingID]
		for i := range lines {
			if lines[i].Status == from {
				lines[i].Status = to
			}
		}
	})
	return n, nil
}

func (t *memoryTx) UpdateTicketTypeSold(ctx context.Context, id string, sold int) error {
	if err := t.requireHeld(lockKey("ticket_types", id)); err != nil {
		return err
	}
	t.store.mu.RLock()
	tt, ok := t.store.ticketTypes[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.ErrTicketTypeNotFound
	}
	if sold < 0 || sold > tt.QuantityAvailable {
		return fmt.Errorf("%w: ticket type %s sold %d of %d", domain.ErrInvariantViolation, id, sold, tt.QuantityAvailable)
	}
	t.ops = append(t.ops, func() {
		row := t.store.ticketTypes[id]
		row.QuantitySold = sold
		t.store.ticketTypes[id] = row
	})
	return nil
}

func (t *memoryTx) UpdateShowtimeSeats(ctx context.Context, id string, booked []string, available int) error {
	if err := t.requireHeld(lockKey("showtimes", id)); err != nil {
		return err
	}
	t.store.mu.RLock()
	st, ok := t.store.showtimes[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.ErrShowtimeNotFound
	}
	if available != st.TotalSeats-len(booked) {
		return fmt.Errorf("%w: showtime %s available %d != %d - %d",
			domain.ErrInvariantViolation, id, available, st.TotalSeats, len(booked))
	}
	seats := append([]string(nil), booked...)
	t.ops = append(t.ops, func() {
		row := t.store.showtimes[id]
		row.BookedSeats = seats
		row.AvailableSeats = available
		t.store.showtimes[id] = row
	})
	return nil
}

func (t *memoryTx) UpdateDiscountUses(ctx context.Context, id string, uses int) error {
	if err := t.requireHeld(lockKey("discounts", id)); err != nil {
		return err
	}
	t.store.mu.RLock()
	d, ok := t.store.discounts[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.ErrDiscountNotFound
	}
	if uses < 0 || (d.MaxUses != nil && uses > *d.MaxUses) {
		return fmt.Errorf("%w: discount %s uses %d", domain.ErrInvariantViolation, id, uses)
	}
	t.ops = append(t.ops, func() {
		row := t.store.discounts[id]
		row.CurrentUses = uses
		t.store.discounts[id] = row
	})
	return nil
}

// Commit applies staged writes atomically. Unique violations abort the whole transaction.
func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: transaction already closed", domain.ErrInvariantViolation)
	}
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range t.newRefs {
		if _, ok := s.references[ref]; ok {
			return domain.ErrDuplicateReference
		}
	}
	for _, key := range t.newKeys {
		if _, ok := s.idempotency[key]; ok {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	for number := range t.newNumbers {
		if _, ok := s.ticketNumbers[number]; ok {
			return domain.ErrDuplicateTicketNumber
		}
	}
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memoryTx) release() {
	t.done = true
	t.ops = nil
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func copyShowtime(st domain.Showtime) domain.Showtime {
	st.BookedSeats = append([]string(nil), st.BookedSeats...)
	return st
}

func copyDiscount(d domain.Discount) domain.Discount {
	if d.MaxUses != nil {
		max := *d.MaxUses
		d.MaxUses = &max
	}
	return d
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
