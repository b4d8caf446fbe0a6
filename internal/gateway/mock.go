package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// MockRail simulates the external payout rail for local development. It
// accepts submissions after a short random delay and rejects ~5% of them
// outright; confirmations must still be injected via the payout webhook.
type MockRail struct {
	// RejectRate is the probability of synchronous rejection (0.0 to 1.0).
	RejectRate float64
}

func NewMockRail() *MockRail {
	return &MockRail{RejectRate: 0.05}
}

func (g *MockRail) Submit(ctx context.Context, req PayoutRequest) error {
	delay := time.Duration(100+rand.Intn(400)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return fmt.Errorf("rail submission canceled: %w", ctx.Err())
	}

	if rand.Float64() < g.RejectRate {
		return fmt.Errorf("rail rejected payout %s", req.Token)
	}

	zap.L().Info("mock rail accepted payout",
		zap.String("token", req.Token),
		zap.String("account_ref", req.AccountRef),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency))
	return nil
}
