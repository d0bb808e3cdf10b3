package service

import (
	"sort"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// RefundBand refunds Percent of the total when at least Before remains until start
type RefundBand struct {
	Before  time.Duration
	Percent int
}

// RefundPolicy maps time-until-start to a refund percentage
type RefundPolicy struct {
	bands []RefundBand
}

// DefaultRefundPolicy is 100% from 48h, 80% from 24h, 50% from 2h, nothing after
func DefaultRefundPolicy() RefundPolicy {
	return NewRefundPolicy([]RefundBand{
		{Before: 48 * time.Hour, Percent: 100},
		{Before: 24 * time.Hour, Percent: 80},
		{Before: 2 * time.Hour, Percent: 50},
	})
}

// NewRefundPolicy builds a policy from bands in any order
func NewRefundPolicy(bands []RefundBand) RefundPolicy {
	sorted := append([]RefundBand(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before > sorted[j].Before })
	return RefundPolicy{bands: sorted}
}

// Percent returns the refund percentage for a cancellation untilStart before the target starts
func (p RefundPolicy) Percent(untilStart time.Duration) int {
	for _, b := range p.bands {
		if untilStart >= b.Before {
			return b.Percent
		}
	}
	return 0
}

// Amount returns the refund on total for a cancellation untilStart before start
func (p RefundPolicy) Amount(total domain.Money, untilStart time.Duration) (domain.Money, int) {
	pct := p.Percent(untilStart)
	return total.PercentInt(int64(pct)), pct
}
