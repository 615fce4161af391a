// Package notify delivers refund claim links to buyers.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier records the claim link instead of delivering it. Used when no
// delivery channel is configured; the payout itself is already settled and
// the merchant can forward the link manually.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, recipient, orderName, claimURL string) error {
	n.logger.Info("refund claim link ready",
		zap.String("recipient", recipient),
		zap.String("order", orderName),
		zap.String("claim_url", claimURL))
	return nil
}
