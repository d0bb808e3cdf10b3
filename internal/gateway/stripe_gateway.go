package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// StripeGatewayConfig holds Stripe credentials
type StripeGatewayConfig struct {
	SecretKey string
}

// StripeGateway implements PaymentGateway on Stripe PaymentIntents
type StripeGateway struct {
	config *StripeGatewayConfig
}

// NewStripeGateway creates a new StripeGateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// CreateIntent creates a PaymentIntent for the booking total. Amounts are already in minor units.
func (g *StripeGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("payment intent request is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &IntentResponse{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

// Refund refunds amount of the PaymentIntent referenced by ChargeRef
func (g *StripeGateway) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if req == nil || req.ChargeRef == "" {
		return nil, fmt.Errorf("charge reference is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Amount:        stripe.Int64(int64(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return &RefundResponse{RefundID: r.ID, Amount: domain.Money(r.Amount), State: refundState(r.Status)}, nil
}

func refundState(s stripe.RefundStatus) RefundState {
	switch s {
	case stripe.RefundStatusSucceeded:
		return RefundStateSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return RefundStatePending
	default:
		return RefundStateFailed
	}
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}
