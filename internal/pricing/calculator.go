// Package pricing computes booking totals. Nothing here touches the store:
// callers pass in rows they already hold locks on.
package pricing

import (
	"math"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// DefaultFeePercent is the processing fee charged on the subtotal
const DefaultFeePercent = 3.0

// Line is one priced row of the breakdown
type Line struct {
	Ref       string       `json:"ref"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unit_price"`
	Amount    domain.Money `json:"amount"`
}

// Input is everything a quote depends on
type Input struct {
	Lines []Line
	// Category discounts in evaluation order
	Candidates []*domain.Discount
	// Promo discount for a supplied code, evaluated after the candidates
	Promo *domain.Discount
	Now   time.Time
}

// Quote is the priced result
type Quote struct {
	Subtotal  domain.Money
	Discount  domain.Money
	Fee       domain.Money
	Total     domain.Money
	Applied   *domain.Discount
	Breakdown []Line
}

// Calculator prices selections with a fixed processing fee rate
type Calculator struct {
	feeBasisPoints int64
}

// NewCalculator creates a calculator charging feePercent of the subtotal
func NewCalculator(feePercent float64) *Calculator {
	if feePercent < 0 {
		feePercent = DefaultFeePercent
	}
	return &Calculator{feeBasisPoints: int64(math.Round(feePercent * 100))}
}

// Fee returns the processing fee on subtotal, rounded half-up to the cent
func (c *Calculator) Fee(subtotal domain.Money) domain.Money {
	return domain.Money((int64(subtotal)*c.feeBasisPoints + 5000) / 10000)
}

// Quote prices the lines and picks the single best discount
func (c *Calculator) Quote(in Input) Quote {
	q := Quote{Breakdown: make([]Line, 0, len(in.Lines))}
	for _, l := range in.Lines {
		l.Amount = l.UnitPrice * domain.Money(l.Quantity)
		q.Subtotal += l.Amount
		q.Breakdown = append(q.Breakdown, l)
	}

	q.Applied, q.Discount = BestDiscount(q.Subtotal, in.Candidates, in.Promo, in.Now)
	q.Fee = c.Fee(q.Subtotal)
	q.Total = q.Subtotal - q.Discount + q.Fee
	return q
}

// BestDiscount returns the valid discount with the largest amount on subtotal.
// Candidates are evaluated before the promo and only a strictly larger amount
// replaces the current best, so ties go to the earlier candidate. A best
// amount of zero applies nothing.
func BestDiscount(subtotal domain.Money, candidates []*domain.Discount, promo *domain.Discount, now time.Time) (*domain.Discount, domain.Money) {
	var (
		best   *domain.Discount
		amount domain.Money
	)
	consider := func(d *domain.Discount) {
		if d == nil || !d.IsValidAt(now) {
			return
		}
		if a := d.AmountFor(subtotal); a > amount {
			best, amount = d, a
		}
	}

	for _, d := range candidates {
		if d.IsPromo() {
			continue
		}
		consider(d)
	}
	consider(promo)
	return best, amount
}

// EventLines prices ticket-type selections at the locked rows' prices
func EventLines(ticketTypes map[string]*domain.TicketType, quantities map[string]int, order []string) []Line {
	lines := make([]Line, 0, len(order))
	for _, id := range order {
		tt := ticketTypes[id]
		lines = append(lines, Line{Ref: id, Quantity: quantities[id], UnitPrice: tt.Price})
	}
	return lines
}

// SeatLines prices each seat at its tier price
func SeatLines(showtime *domain.Showtime, seats []string) []Line {
	lines := make([]Line, 0, len(seats))
	for _, seat := range seats {
		lines = append(lines, Line{Ref: seat, Quantity: 1, UnitPrice: showtime.SeatPrice(seat)})
	}
	return lines
}
