package domain

import "fmt"

// BookingKind discriminates the BookingTarget union
type BookingKind string

const (
	BookingKindEvent BookingKind = "event"
	BookingKindMovie BookingKind = "movie"
)

// IsValid checks if the kind is a valid BookingKind
func (k BookingKind) IsValid() bool {
	return k == BookingKindEvent || k == BookingKindMovie
}

func (k BookingKind) String() string {
	return string(k)
}

// BookingTarget is what a booking is for: exactly one event or exactly one showtime.
// The zero value is invalid.
type BookingTarget struct {
	kind BookingKind
	id   string
}

// EventTarget targets an event's ticket types
func EventTarget(eventID string) BookingTarget {
	return BookingTarget{kind: BookingKindEvent, id: eventID}
}

// ShowtimeTarget targets a showtime's seat map
func ShowtimeTarget(showtimeID string) BookingTarget {
	return BookingTarget{kind: BookingKindMovie, id: showtimeID}
}

// NewBookingTarget builds a target from its stored discriminant and id
func NewBookingTarget(kind BookingKind, id string) (BookingTarget, error) {
	t := BookingTarget{kind: kind, id: id}
	if err := t.Validate(); err != nil {
		return BookingTarget{}, err
	}
	return t, nil
}

func (t BookingTarget) Kind() BookingKind { return t.kind }
func (t BookingTarget) ID() string        { return t.id }

// EventID returns the event id when the target is an event
func (t BookingTarget) EventID() (string, bool) {
	if t.kind != BookingKindEvent {
		return "", false
	}
	return t.id, true
}

// ShowtimeID returns the showtime id when the target is a showtime
func (t BookingTarget) ShowtimeID() (string, bool) {
	if t.kind != BookingKindMovie {
		return "", false
	}
	return t.id, true
}

// Validate checks the discriminant and the reference
func (t BookingTarget) Validate() error {
	if !t.kind.IsValid() {
		return NewValidationError("kind", fmt.Sprintf("unknown booking kind %q", t.kind))
	}
	if t.id == "" {
		return NewValidationError("target", "target id is required")
	}
	return nil
}

func (t BookingTarget) String() string {
	return fmt.Sprintf("%s:%s", t.kind, t.id)
}
