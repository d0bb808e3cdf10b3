package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of a successful call (0.0 to 1.0)
	SuccessRate float64

	// Delay simulates provider latency
	Delay time.Duration

	// PendingRefunds makes successful refunds report pending instead of succeeded
	PendingRefunds bool
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 1.0,
		Delay:       50 * time.Millisecond,
	}
}

// MockGateway implements PaymentGateway for local runs and tests
type MockGateway struct {
	mu      sync.Mutex
	config  MockGatewayConfig
	intents map[string]*IntentRequest
	refunds map[string]*RefundResponse
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	cfg := *config
	if cfg.SuccessRate < 0 {
		cfg.SuccessRate = 0
	}
	if cfg.SuccessRate > 1 {
		cfg.SuccessRate = 1
	}
	return &MockGateway{
		config:  cfg,
		intents: make(map[string]*IntentRequest),
		refunds: make(map[string]*RefundResponse),
	}
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.config.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.config.Delay):
		return nil
	}
}

func (g *MockGateway) succeeds() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return rand.Float64() < g.config.SuccessRate
}

// CreateIntent creates a mock PaymentIntent
func (g *MockGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("payment intent request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment intent amount must be positive")
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if !g.succeeds() {
		return nil, fmt.Errorf("processing_error: mock provider rejected the intent")
	}

	id := fmt.Sprintf("pi_mock_%s", randomAlphanumeric(24))
	g.mu.Lock()
	g.intents[id] = req
	g.mu.Unlock()

	return &IntentResponse{
		IntentID:     id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, randomAlphanumeric(24)),
		Status:       "requires_payment_method",
	}, nil
}

// Refund processes a mock refund. A repeated idempotency key returns the first result.
func (g *MockGateway) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if req == nil || req.ChargeRef == "" {
		return nil, fmt.Errorf("charge reference is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive")
	}

	if req.IdempotencyKey != "" {
		g.mu.Lock()
		prev, ok := g.refunds[req.IdempotencyKey]
		g.mu.Unlock()
		if ok {
			return prev, nil
		}
	}

	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if !g.succeeds() {
		return nil, fmt.Errorf("refund declined for %s", req.ChargeRef)
	}

	resp := &RefundResponse{
		RefundID: fmt.Sprintf("re_mock_%s", randomAlphanumeric(24)),
		Amount:   req.Amount,
		State:    RefundStateSucceeded,
	}
	if g.config.PendingRefunds {
		resp.State = RefundStatePending
	}
	if req.IdempotencyKey != "" {
		g.mu.Lock()
		g.refunds[req.IdempotencyKey] = resp
		g.mu.Unlock()
	}
	return resp, nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.config.SuccessRate = rate
}

// RefundCount returns the number of distinct refunds issued
func (g *MockGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}
