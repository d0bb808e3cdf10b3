package domain

import "time"

// DiscountType is how a discount reduces the subtotal
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a reduction scoped to an event. A discount with a Code is a
// promo discount and only applies when the code is supplied; one without is
// a category discount evaluated automatically.
type Discount struct {
	ID          string       `json:"id"`
	EventID     string       `json:"event_id"`
	Code        string       `json:"code,omitempty"`
	Name        string       `json:"name"`
	Type        DiscountType `json:"type"`
	Percent     float64      `json:"percent,omitempty"` // percentage discounts, 0-100
	Amount      Money        `json:"amount,omitempty"`  // fixed discounts
	ValidFrom   time.Time    `json:"valid_from"`
	ValidUntil  time.Time    `json:"valid_until"`
	Active      bool         `json:"active"`
	MaxUses     *int         `json:"max_uses,omitempty"`
	CurrentUses int          `json:"current_uses"`
	CreatedAt   time.Time    `json:"created_at"`
}

// IsPromo reports whether the discount requires a code
func (d *Discount) IsPromo() bool {
	return d.Code != ""
}

// Exhausted reports whether the usage cap has been reached
func (d *Discount) Exhausted() bool {
	return d.MaxUses != nil && d.CurrentUses >= *d.MaxUses
}

// IsValidAt reports whether the discount may be applied at now
func (d *Discount) IsValidAt(now time.Time) bool {
	if !d.Active || d.Exhausted() {
		return false
	}
	if !d.ValidFrom.IsZero() && now.Before(d.ValidFrom) {
		return false
	}
	if !d.ValidUntil.IsZero() && !now.Before(d.ValidUntil) {
		return false
	}
	return true
}

// AmountFor returns the reduction this discount yields on subtotal, capped at subtotal
func (d *Discount) AmountFor(subtotal Money) Money {
	var amount Money
	switch d.Type {
	case DiscountTypePercentage:
		amount = subtotal.Percent(d.Percent)
	case DiscountTypeFixed:
		amount = d.Amount
	}
	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}
