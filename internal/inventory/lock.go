// Package inventory holds scarce-resource rows for the life of a store
// transaction and applies symmetric consume/release changes to them.
//
// Lock order is fixed: ticket types (sorted by id), then the showtime, then
// discounts (sorted by id). Each stage is taken in a single call, and a stage
// can not be reopened once a later one started, so two transactions going
// through Lock can never wait on each other in a cycle.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// Locker acquires exclusive row locks inside the caller's transaction
type Locker interface {
	LockTicketTypes(ctx context.Context, ids []string) ([]*domain.TicketType, error)
	LockShowtime(ctx context.Context, id string) (*domain.Showtime, error)
	LockDiscount(ctx context.Context, id string) (*domain.Discount, error)
}

// Writer persists counter changes on rows the transaction holds
type Writer interface {
	UpdateTicketTypeSold(ctx context.Context, id string, sold int) error
	UpdateShowtimeSeats(ctx context.Context, id string, booked []string, available int) error
	UpdateDiscountUses(ctx context.Context, id string, uses int) error
}

// Tx is the transaction surface the lock needs
type Tx interface {
	Locker
	Writer
}

type stage int

const (
	stageNone stage = iota
	stageTicketTypes
	stageShowtime
	stageDiscount
)

// Lock tracks the rows one transaction holds and the changes made to them
type Lock struct {
	tx    Tx
	stage stage

	ticketTypes map[string]*domain.TicketType
	showtime    *domain.Showtime
	discounts   map[string]*domain.Discount

	dirtyTypes     map[string]struct{}
	dirtyShowtime  bool
	dirtyDiscounts map[string]struct{}
}

// New starts tracking locks for tx
func New(tx Tx) *Lock {
	return &Lock{
		tx:             tx,
		ticketTypes:    make(map[string]*domain.TicketType),
		discounts:      make(map[string]*domain.Discount),
		dirtyTypes:     make(map[string]struct{}),
		dirtyDiscounts: make(map[string]struct{}),
	}
}

func (l *Lock) advance(to stage) error {
	if to < l.stage {
		return fmt.Errorf("%w: lock order violated (stage %d after %d)", domain.ErrInvariantViolation, to, l.stage)
	}
	l.stage = to
	return nil
}

// TicketTypes locks the given ticket types in id order and returns them by id
func (l *Lock) TicketTypes(ctx context.Context, ids []string) (map[string]*domain.TicketType, error) {
	if err := l.advance(stageTicketTypes); err != nil {
		return nil, err
	}

	unique := uniqueSorted(ids)
	rows, err := l.tx.LockTicketTypes(ctx, unique)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		l.ticketTypes[row.ID] = row
	}
	for _, id := range unique {
		if _, ok := l.ticketTypes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrTicketTypeNotFound, id)
		}
	}
	return l.ticketTypes, nil
}

// Showtime locks the showtime's seat map
func (l *Lock) Showtime(ctx context.Context, id string) (*domain.Showtime, error) {
	if err := l.advance(stageShowtime); err != nil {
		return nil, err
	}
	s, err := l.tx.LockShowtime(ctx, id)
	if err != nil {
		return nil, err
	}
	l.showtime = s
	return s, nil
}

// Discounts locks every given discount in id order and returns the ones that
// exist by id. Discounts are locked once per transaction; a later call may
// only ask for rows it already holds.
func (l *Lock) Discounts(ctx context.Context, ids []string) (map[string]*domain.Discount, error) {
	unique := uniqueSorted(ids)
	if l.stage == stageDiscount {
		for _, id := range unique {
			if _, ok := l.discounts[id]; !ok {
				return nil, fmt.Errorf("%w: discount %s locked after the discount stage", domain.ErrInvariantViolation, id)
			}
		}
		return l.discounts, nil
	}
	if err := l.advance(stageDiscount); err != nil {
		return nil, err
	}

	for _, id := range unique {
		d, err := l.tx.LockDiscount(ctx, id)
		if errors.Is(err, domain.ErrDiscountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.discounts[id] = d
	}
	return l.discounts, nil
}

// Discount locks a single discount row
func (l *Lock) Discount(ctx context.Context, id string) (*domain.Discount, error) {
	held, err := l.Discounts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	d, ok := held[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDiscountNotFound, id)
	}
	return d, nil
}

// ConsumeQuota sells quantities of each locked ticket type, all or nothing
func (l *Lock) ConsumeQuota(quantities map[string]int) error {
	ids := sortedKeys(quantities)
	for _, id := range ids {
		tt, err := l.heldTicketType(id)
		if err != nil {
			return err
		}
		if n := quantities[id]; tt.QuantitySold+n > tt.QuantityAvailable {
			return &domain.InsufficientInventoryError{TicketTypeID: id, Requested: n, Remaining: tt.Remaining()}
		}
	}
	for _, id := range ids {
		l.ticketTypes[id].QuantitySold += quantities[id]
		l.dirtyTypes[id] = struct{}{}
	}
	return nil
}

// ReleaseQuota returns quantities to the pool, never dropping below zero sold
func (l *Lock) ReleaseQuota(quantities map[string]int) error {
	for _, id := range sortedKeys(quantities) {
		tt, err := l.heldTicketType(id)
		if err != nil {
			return err
		}
		tt.QuantitySold -= quantities[id]
		if tt.QuantitySold < 0 {
			tt.QuantitySold = 0
		}
		l.dirtyTypes[id] = struct{}{}
	}
	return nil
}

// BookSeats adds seats to the locked showtime's booked set
func (l *Lock) BookSeats(seats []string) error {
	s, err := l.heldShowtime()
	if err != nil {
		return err
	}
	if taken := s.Conflicts(seats); len(taken) > 0 {
		return &domain.SeatUnavailableError{Seats: taken}
	}
	s.BookedSeats = append(s.BookedSeats, seats...)
	s.AvailableSeats -= len(seats)
	l.dirtyShowtime = true
	return nil
}

// ReleaseSeats removes seats from the booked set. Seats not currently booked are ignored.
func (l *Lock) ReleaseSeats(seats []string) error {
	s, err := l.heldShowtime()
	if err != nil {
		return err
	}
	release := make(map[string]struct{}, len(seats))
	for _, seat := range seats {
		release[seat] = struct{}{}
	}
	kept := s.BookedSeats[:0:0]
	freed := 0
	for _, seat := range s.BookedSeats {
		if _, ok := release[seat]; ok {
			freed++
			continue
		}
		kept = append(kept, seat)
	}
	s.BookedSeats = kept
	s.AvailableSeats += freed
	if s.AvailableSeats > s.TotalSeats {
		s.AvailableSeats = s.TotalSeats
	}
	l.dirtyShowtime = true
	return nil
}

// ConsumeDiscountUse takes one use of a locked discount
func (l *Lock) ConsumeDiscountUse(id string) error {
	d, err := l.heldDiscount(id)
	if err != nil {
		return err
	}
	if d.Exhausted() {
		return fmt.Errorf("%w: discount %s consumed past its cap", domain.ErrInvariantViolation, id)
	}
	d.CurrentUses++
	l.dirtyDiscounts[id] = struct{}{}
	return nil
}

// ReleaseDiscountUse gives back one use, never dropping below zero
func (l *Lock) ReleaseDiscountUse(id string) error {
	d, err := l.heldDiscount(id)
	if err != nil {
		return err
	}
	if d.CurrentUses > 0 {
		d.CurrentUses--
	}
	l.dirtyDiscounts[id] = struct{}{}
	return nil
}

// Flush writes every changed row back through the transaction
func (l *Lock) Flush(ctx context.Context) error {
	for _, id := range sortedKeys(l.dirtyTypes) {
		if err := l.tx.UpdateTicketTypeSold(ctx, id, l.ticketTypes[id].QuantitySold); err != nil {
			return err
		}
	}
	if l.dirtyShowtime {
		s := l.showtime
		if err := l.tx.UpdateShowtimeSeats(ctx, s.ID, s.BookedSeats, s.AvailableSeats); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(l.dirtyDiscounts) {
		if err := l.tx.UpdateDiscountUses(ctx, id, l.discounts[id].CurrentUses); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lock) heldTicketType(id string) (*domain.TicketType, error) {
	tt, ok := l.ticketTypes[id]
	if !ok {
		return nil, fmt.Errorf("%w: ticket type %s mutated without lock", domain.ErrInvariantViolation, id)
	}
	return tt, nil
}

func (l *Lock) heldShowtime() (*domain.Showtime, error) {
	if l.showtime == nil {
		return nil, fmt.Errorf("%w: showtime mutated without lock", domain.ErrInvariantViolation)
	}
	return l.showtime, nil
}

func (l *Lock) heldDiscount(id string) (*domain.Discount, error) {
	d, ok := l.discounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: discount %s mutated without lock", domain.ErrInvariantViolation, id)
	}
	return d, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
