// Package gateway wraps the external payment provider. Engines never call it
// from inside a store transaction.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// RefundState is the provider's view of a refund
type RefundState string

const (
	RefundStateSucceeded RefundState = "succeeded"
	RefundStatePending   RefundState = "pending"
	RefundStateFailed    RefundState = "failed"
)

// IntentRequest asks the provider for a payment intent
type IntentRequest struct {
	Amount         domain.Money
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// IntentResponse is a created payment intent
type IntentResponse struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// RefundRequest refunds part or all of a charge
type RefundRequest struct {
	ChargeRef      string
	Amount         domain.Money
	Reason         string
	IdempotencyKey string
}

// RefundResponse is the provider's answer to a refund. Amount is what the
// provider refunded, which for a replayed idempotency key is the first request's amount.
type RefundResponse struct {
	RefundID string
	Amount   domain.Money
	State    RefundState
}

// PaymentGateway is the payment provider boundary
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResponse, error)
	Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error)
	Name() string
}

// GatewayType represents the type of payment gateway
type GatewayType string

const (
	GatewayTypeMock   GatewayType = "mock"
	GatewayTypeStripe GatewayType = "stripe"
)

// Config selects and configures a gateway
type Config struct {
	Provider        string
	StripeSecretKey string
	MockSuccessRate float64
	MockDelay       time.Duration
}

// NewPaymentGateway creates a payment gateway based on the provider name
func NewPaymentGateway(cfg *Config) (PaymentGateway, error) {
	switch GatewayType(strings.ToLower(cfg.Provider)) {
	case GatewayTypeMock, "":
		return NewMockGateway(&MockGatewayConfig{
			SuccessRate: cfg.MockSuccessRate,
			Delay:       cfg.MockDelay,
		}), nil
	case GatewayTypeStripe:
		return NewStripeGateway(&StripeGatewayConfig{SecretKey: cfg.StripeSecretKey})
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", cfg.Provider)
	}
}
