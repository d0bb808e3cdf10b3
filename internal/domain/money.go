package domain

import "fmt"

// Money is an amount in minor currency units (cents)
type Money int64

// String formats the amount with two decimals
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float returns the amount in major units, for display only
func (m Money) Float() float64 {
	return float64(m) / 100
}

// Percent returns pct percent of m, rounded half-up to the cent
func (m Money) Percent(pct float64) Money {
	return Money(roundHalfUp(float64(m) * pct / 100))
}

// PercentInt returns pct percent of m using integer arithmetic, rounded half-up
func (m Money) PercentInt(pct int64) Money {
	return Money((int64(m)*pct + 50) / 100)
}

func roundHalfUp(v float64) int64 {
	if v < 0 {
		return -int64(-v + 0.5)
	}
	return int64(v + 0.5)
}
