package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func pct(id string, percent float64) *domain.Discount {
	return &domain.Discount{ID: id, Type: domain.DiscountTypePercentage, Percent: percent, Active: true}
}

func fixed(id string, amount domain.Money) *domain.Discount {
	return &domain.Discount{ID: id, Type: domain.DiscountTypeFixed, Amount: amount, Active: true}
}

func TestCalculator_Fee(t *testing.T) {
	c := NewCalculator(DefaultFeePercent)

	tests := []struct {
		subtotal domain.Money
		want     domain.Money
	}{
		{10000, 300},
		{1050, 32}, // 31.5 -> 32
		{1049, 31}, // 31.47 -> 31
		{1, 0},     // 0.03 -> 0
		{17, 1},    // 0.51 -> 1
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Fee(tt.subtotal), "fee on %s", tt.subtotal)
	}
}

func TestCalculator_Quote_EventLines(t *testing.T) {
	c := NewCalculator(DefaultFeePercent)
	types := map[string]*domain.TicketType{
		"general": {ID: "general", Price: 5000},
		"vip":     {ID: "vip", Price: 12000},
	}

	q := c.Quote(Input{
		Lines: EventLines(types, map[string]int{"general": 2, "vip": 1}, []string{"general", "vip"}),
		Now:   now,
	})

	assert.Equal(t, domain.Money(22000), q.Subtotal)
	assert.Equal(t, domain.Money(0), q.Discount)
	assert.Equal(t, domain.Money(660), q.Fee)
	assert.Equal(t, domain.Money(22660), q.Total)
	assert.Nil(t, q.Applied)
	require.Len(t, q.Breakdown, 2)
	assert.Equal(t, domain.Money(10000), q.Breakdown[0].Amount)
}

func TestCalculator_Quote_SeatTiers(t *testing.T) {
	c := NewCalculator(DefaultFeePercent)
	show := &domain.Showtime{
		BasePrice: 1000,
		Layout:    domain.ScreenLayout{Rows: 6, SeatsPerRow: 10, RowPrices: map[string]domain.Money{"F": 2500}},
	}

	q := c.Quote(Input{Lines: SeatLines(show, []string{"A1", "F1"}), Now: now})

	assert.Equal(t, domain.Money(3500), q.Subtotal)
	assert.Equal(t, domain.Money(105), q.Fee)
	assert.Equal(t, domain.Money(3605), q.Total)
}

func TestCalculator_Quote_PicksLargestDiscount(t *testing.T) {
	c := NewCalculator(DefaultFeePercent)
	small := pct("ten", 10)
	big := fixed("flat", 3000)
	promo := pct("promo", 20)
	promo.Code = "SPRING"

	q := c.Quote(Input{
		Lines:      []Line{{Ref: "general", Quantity: 2, UnitPrice: 5000}},
		Candidates: []*domain.Discount{small, big},
		Promo:      promo,
		Now:        now,
	})

	assert.Same(t, big, q.Applied)
	assert.Equal(t, domain.Money(3000), q.Discount)
	assert.Equal(t, q.Subtotal-q.Discount+q.Fee, q.Total)
}

func TestBestDiscount_TiePrefersCategory(t *testing.T) {
	category := pct("category", 10)
	promo := fixed("promo", 1000)
	promo.Code = "TENOFF"

	best, amount := BestDiscount(10000, []*domain.Discount{category}, promo, now)

	assert.Same(t, category, best)
	assert.Equal(t, domain.Money(1000), amount)
}

func TestBestDiscount_TieBetweenCategoriesPrefersFirst(t *testing.T) {
	first := fixed("first", 500)
	second := pct("second", 5)

	best, _ := BestDiscount(10000, []*domain.Discount{first, second}, nil, now)
	assert.Same(t, first, best)
}

func TestBestDiscount_SkipsInvalid(t *testing.T) {
	one := 1
	exhausted := pct("exhausted", 50)
	exhausted.MaxUses = &one
	exhausted.CurrentUses = 1
	expired := pct("expired", 40)
	expired.ValidUntil = now.Add(-time.Minute)
	inactive := pct("inactive", 30)
	inactive.Active = false
	valid := pct("valid", 5)

	best, amount := BestDiscount(10000, []*domain.Discount{exhausted, expired, inactive, valid}, nil, now)

	assert.Same(t, valid, best)
	assert.Equal(t, domain.Money(500), amount)
}

func TestBestDiscount_PromoAmongCandidatesIgnored(t *testing.T) {
	promo := pct("promo", 50)
	promo.Code = "HALF"

	best, amount := BestDiscount(10000, []*domain.Discount{promo}, nil, now)
	assert.Nil(t, best)
	assert.Equal(t, domain.Money(0), amount)
}

func TestBestDiscount_ZeroAmountNotApplied(t *testing.T) {
	best, amount := BestDiscount(0, []*domain.Discount{fixed("f", 500)}, nil, now)
	assert.Nil(t, best)
	assert.Equal(t, domain.Money(0), amount)
}

func TestBestDiscount_CappedAtSubtotal(t *testing.T) {
	d := fixed("huge", 100000)
	best, amount := BestDiscount(2500, []*domain.Discount{d}, nil, now)
	assert.Same(t, d, best)
	assert.Equal(t, domain.Money(2500), amount)
}

func TestNewCalculator_CustomRate(t *testing.T) {
	c := NewCalculator(2.5)
	assert.Equal(t, domain.Money(250), c.Fee(10000))
}
