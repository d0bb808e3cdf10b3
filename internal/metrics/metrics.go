package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

var (
	// Reservation counters
	ReservationsCommitted *telemetry.Counter
	ReservationsFailed    *telemetry.Counter
	ReservationsReplayed  *telemetry.Counter
	TicketsSold           *telemetry.Counter
	DiscountDowngrades    *telemetry.Counter

	// Cancellation counters
	CancellationsCommitted *telemetry.Counter
	CancellationsFailed    *telemetry.Counter
	RefundsIssued          *telemetry.Counter

	// Retry and status counters
	RetryAttempts     *telemetry.Counter
	RetriesExhausted  *telemetry.Counter
	StatusTransitions *telemetry.Counter

	// Notification counters
	NotificationsEnqueued  *telemetry.Counter
	NotificationsPublished *telemetry.Counter
	NotificationsFailed    *telemetry.Counter

	// Histograms
	ReserveDuration *telemetry.Histogram
	CancelDuration  *telemetry.Histogram

	// Gauges
	InFlightReservations *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all reservation metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func counter(name, description string) (*telemetry.Counter, error) {
	return telemetry.NewCounter(telemetry.MetricOpts{Name: name, Description: description, Unit: "1"})
}

func initMetrics() error {
	var err error

	counters := []struct {
		target      **telemetry.Counter
		name        string
		description string
	}{
		{&ReservationsCommitted, "reservation_commits_total", "Total number of committed reservations"},
		{&ReservationsFailed, "reservation_failures_total", "Total number of failed reservations by category"},
		{&ReservationsReplayed, "reservation_replays_total", "Total number of reservations answered from an idempotency key"},
		{&TicketsSold, "reservation_tickets_sold_total", "Total number of ticket lines created"},
		{&DiscountDowngrades, "reservation_discount_downgrades_total", "Total number of discounts dropped after locking"},
		{&CancellationsCommitted, "cancellation_commits_total", "Total number of committed cancellations"},
		{&CancellationsFailed, "cancellation_failures_total", "Total number of failed cancellations by category"},
		{&RefundsIssued, "cancellation_refunds_total", "Total number of refunds issued by state"},
		{&RetryAttempts, "reservation_retry_attempts_total", "Total number of reservation retries"},
		{&RetriesExhausted, "reservation_retries_exhausted_total", "Total number of reservations that ran out of retries"},
		{&StatusTransitions, "booking_status_transitions_total", "Total number of booking status transitions"},
		{&NotificationsEnqueued, "notification_enqueued_total", "Total number of notifications written to the outbox"},
		{&NotificationsPublished, "notification_published_total", "Total number of notifications published to Kafka"},
		{&NotificationsFailed, "notification_failures_total", "Total number of notification publish failures"},
	}
	for _, c := range counters {
		if *c.target, err = counter(c.name, c.description); err != nil {
			return err
		}
	}

	ReserveDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "reservation_duration_seconds",
		Description: "Duration of a reservation including retries",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}) // 5ms to 5s
	if err != nil {
		return err
	}

	CancelDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "cancellation_duration_seconds",
		Description: "Duration of a cancellation including the refund call",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	InFlightReservations, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservation_in_flight",
		Description: "Reservations currently holding a transaction",
		Unit:        "1",
	})
	return err
}

// RecordReservation records a committed reservation
func RecordReservation(ctx context.Context, kind string, tickets int, durationSeconds float64) {
	if ReservationsCommitted != nil {
		ReservationsCommitted.Inc(ctx, attribute.String("kind", kind))
	}
	if TicketsSold != nil {
		TicketsSold.Add(ctx, int64(tickets), attribute.String("kind", kind))
	}
	if ReserveDuration != nil {
		ReserveDuration.Record(ctx, durationSeconds, attribute.String("kind", kind))
	}
}

// RecordReservationFailure records a failed reservation by error category
func RecordReservationFailure(ctx context.Context, kind, category string) {
	if ReservationsFailed != nil {
		ReservationsFailed.Inc(ctx,
			attribute.String("kind", kind),
			attribute.String("category", category),
		)
	}
}

// RecordReplay records a reservation answered from its idempotency key
func RecordReplay(ctx context.Context) {
	if ReservationsReplayed != nil {
		ReservationsReplayed.Inc(ctx)
	}
}

// RecordDiscountDowngrade records a discount dropped after its lock showed it invalid
func RecordDiscountDowngrade(ctx context.Context, discountID string) {
	if DiscountDowngrades != nil {
		DiscountDowngrades.Inc(ctx, attribute.String("discount_id", discountID))
	}
}

// TrackInFlight increments the in-flight gauge and returns its release
func TrackInFlight(ctx context.Context) func() {
	if InFlightReservations == nil {
		return func() {}
	}
	InFlightReservations.Add(ctx, 1)
	return func() { InFlightReservations.Add(ctx, -1) }
}

// RecordCancellation records a committed cancellation
func RecordCancellation(ctx context.Context, kind, refundStatus string, durationSeconds float64) {
	if CancellationsCommitted != nil {
		CancellationsCommitted.Inc(ctx,
			attribute.String("kind", kind),
			attribute.String("refund_status", refundStatus),
		)
	}
	if CancelDuration != nil {
		CancelDuration.Record(ctx, durationSeconds, attribute.String("kind", kind))
	}
}

// RecordCancellationFailure records a failed cancellation by error category
func RecordCancellationFailure(ctx context.Context, category string) {
	if CancellationsFailed != nil {
		CancellationsFailed.Inc(ctx, attribute.String("category", category))
	}
}

// RecordRefund records a refund by provider state
func RecordRefund(ctx context.Context, state string) {
	if RefundsIssued != nil {
		RefundsIssued.Inc(ctx, attribute.String("state", state))
	}
}

// RecordRetry records one retry of a reservation attempt
func RecordRetry(ctx context.Context, attempt int) {
	if RetryAttempts != nil {
		RetryAttempts.Inc(ctx, attribute.Int("attempt", attempt))
	}
}

// RecordRetriesExhausted records a reservation that failed after its last retry
func RecordRetriesExhausted(ctx context.Context) {
	if RetriesExhausted != nil {
		RetriesExhausted.Inc(ctx)
	}
}

// RecordStatusTransition records a booking status change
func RecordStatusTransition(ctx context.Context, from, to string) {
	if StatusTransitions != nil {
		StatusTransitions.Inc(ctx,
			attribute.String("from", from),
			attribute.String("to", to),
		)
	}
}

// RecordNotificationEnqueued records an outbox insert
func RecordNotificationEnqueued(ctx context.Context, template string) {
	if NotificationsEnqueued != nil {
		NotificationsEnqueued.Inc(ctx, attribute.String("template", template))
	}
}

// RecordNotificationPublished records a successful Kafka publish
func RecordNotificationPublished(ctx context.Context, template string) {
	if NotificationsPublished != nil {
		NotificationsPublished.Inc(ctx, attribute.String("template", template))
	}
}

// RecordNotificationFailed records a failed publish attempt
func RecordNotificationFailed(ctx context.Context, template string, dead bool) {
	if NotificationsFailed != nil {
		NotificationsFailed.Inc(ctx,
			attribute.String("template", template),
			attribute.Bool("dead", dead),
		)
	}
}
