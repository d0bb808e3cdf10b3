package domain

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// PaymentStatus represents the state of a booking's payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// TicketStatus represents the state of a single ticket line
type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "valid"
	TicketStatusUsed      TicketStatus = "used"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusExpired   TicketStatus = "expired"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing:        {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:            {PaymentStatusProcessing},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded},
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusValid: {TicketStatusUsed, TicketStatusCancelled, TicketStatusExpired},
}

func (s BookingStatus) String() string { return string(s) }
func (s PaymentStatus) String() string { return string(s) }
func (s TicketStatus) String() string  { return string(s) }

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusCompleted, BookingStatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether no further booking transition is possible
func (s BookingStatus) IsTerminal() bool {
	return s.IsValid() && len(bookingTransitions[s]) == 0
}

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// IsValid checks if the status is a valid TicketStatus
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusValid, TicketStatusUsed, TicketStatusCancelled, TicketStatusExpired:
		return true
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CanTransitionBooking reports whether from -> to is a legal booking transition
func CanTransitionBooking(from, to BookingStatus) bool {
	return contains(bookingTransitions[from], to)
}

// ValidateBookingTransition returns a StatusTransitionError for illegal moves
func ValidateBookingTransition(from, to BookingStatus) error {
	if !to.IsValid() {
		return NewValidationError("status", "unknown booking status "+to.String())
	}
	if !CanTransitionBooking(from, to) {
		return &StatusTransitionError{Machine: "booking", From: from.String(), To: to.String()}
	}
	return nil
}

// ValidatePaymentTransition returns a StatusTransitionError for illegal moves
func ValidatePaymentTransition(from, to PaymentStatus) error {
	if !to.IsValid() {
		return NewValidationError("payment_status", "unknown payment status "+to.String())
	}
	if !contains(paymentTransitions[from], to) {
		return &StatusTransitionError{Machine: "payment", From: from.String(), To: to.String()}
	}
	return nil
}

// ValidateTicketTransition returns a StatusTransitionError for illegal moves
func ValidateTicketTransition(from, to TicketStatus) error {
	if !contains(ticketTransitions[from], to) {
		return &StatusTransitionError{Machine: "ticket", From: from.String(), To: to.String()}
	}
	return nil
}

// BookingStatusForPayment returns the booking status a payment outcome drives
// a pending booking to, if any.
func BookingStatusForPayment(p PaymentStatus) (BookingStatus, bool) {
	switch p {
	case PaymentStatusCompleted:
		return BookingStatusConfirmed, true
	case PaymentStatusFailed:
		return BookingStatusCancelled, true
	}
	return "", false
}
