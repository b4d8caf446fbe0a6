package gateway

import "context"

// PayoutRequest is the submission sent to the external payout rail. The
// ledger transaction id doubles as the rail-side idempotency token.
type PayoutRequest struct {
	Token      string // withdrawal transaction id
	AccountRef string // external account reference from the wallet's payout settings
	Amount     int64  // minor units
	Currency   string
}

// PayoutRail is the external payout processor boundary. Submission is
// fire-and-forget: the rail confirms or rejects asynchronously through the
// payout webhook, not through the return value of Submit.
type PayoutRail interface {
	// Submit hands the payout to the rail. An error means the rail never
	// accepted the request; the caller must release the reserved funds.
	Submit(ctx context.Context, req PayoutRequest) error
}
