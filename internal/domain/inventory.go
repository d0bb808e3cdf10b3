package domain

import (
	"regexp"
	"sort"
	"strconv"
	"time"
)

// EventStatus is the publication state of an event
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// Event is a ticketed event sold through ticket types
type Event struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Status   EventStatus `json:"status"`
	StartsAt time.Time   `json:"starts_at"`
	Currency string      `json:"currency"`
}

// IsBookableAt reports whether new bookings may be taken at now
func (e *Event) IsBookableAt(now time.Time) bool {
	return e.Status == EventStatusPublished && e.StartsAt.After(now)
}

// TicketType is a priced category of admission with its quota counters
type TicketType struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	Name              string `json:"name"`
	Price             Money  `json:"price"`
	QuantityAvailable int    `json:"quantity_available"`
	QuantitySold      int    `json:"quantity_sold"`
}

// Remaining returns the unsold quota
func (t *TicketType) Remaining() int {
	return t.QuantityAvailable - t.QuantitySold
}

// Showtime is one screening with its seat map
type Showtime struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	StartsAt       time.Time    `json:"starts_at"`
	Active         bool         `json:"active"`
	BasePrice      Money        `json:"base_price"`
	Currency       string       `json:"currency"`
	Layout         ScreenLayout `json:"layout"`
	TotalSeats     int          `json:"total_seats"`
	AvailableSeats int          `json:"available_seats"`
	BookedSeats    []string     `json:"booked_seats"`
}

// IsBookableAt reports whether new bookings may be taken at now
func (s *Showtime) IsBookableAt(now time.Time) bool {
	return s.Active && s.StartsAt.After(now)
}

// SeatPrice returns the tier price for the seat's row, or the base price
func (s *Showtime) SeatPrice(seat string) Money {
	if len(seat) > 0 {
		if p, ok := s.Layout.RowPrices[seat[:1]]; ok {
			return p
		}
	}
	return s.BasePrice
}

// Conflicts returns the requested seats that are already booked, in request order
func (s *Showtime) Conflicts(seats []string) []string {
	booked := make(map[string]struct{}, len(s.BookedSeats))
	for _, b := range s.BookedSeats {
		booked[b] = struct{}{}
	}
	var taken []string
	for _, seat := range seats {
		if _, ok := booked[seat]; ok {
			taken = append(taken, seat)
		}
	}
	return taken
}

// ScreenLayout describes the seat grammar of a theater screen
type ScreenLayout struct {
	Rows          int              `json:"rows"`
	SeatsPerRow   int              `json:"seats_per_row"`
	DisabledSeats []string         `json:"disabled_seats,omitempty"`
	RowPrices     map[string]Money `json:"row_prices,omitempty"`
}

var seatPattern = regexp.MustCompile(`^([A-Z])([1-9][0-9]*)$`)

// Capacity is the number of bookable seats
func (l ScreenLayout) Capacity() int {
	return l.Rows*l.SeatsPerRow - len(l.DisabledSeats)
}

// InvalidSeats returns the seats that do not exist on this layout or are disabled
func (l ScreenLayout) InvalidSeats(seats []string) []string {
	disabled := make(map[string]struct{}, len(l.DisabledSeats))
	for _, d := range l.DisabledSeats {
		disabled[d] = struct{}{}
	}

	var invalid []string
	for _, seat := range seats {
		if !l.validSeat(seat) {
			invalid = append(invalid, seat)
			continue
		}
		if _, ok := disabled[seat]; ok {
			invalid = append(invalid, seat)
		}
	}
	return invalid
}

func (l ScreenLayout) validSeat(seat string) bool {
	m := seatPattern.FindStringSubmatch(seat)
	if m == nil {
		return false
	}
	row := int(m[1][0] - 'A')
	if row >= l.Rows {
		return false
	}
	n, err := strconv.Atoi(m[2])
	return err == nil && n <= l.SeatsPerRow
}

// SortedSeats returns a sorted copy of seats
func SortedSeats(seats []string) []string {
	out := append([]string(nil), seats...)
	sort.Strings(out)
	return out
}
