package gateway

import (
	"context"
	"fmt"

	domain "payvault/internal/errors"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/payout"
	"go.uber.org/zap"
)

// StripeGateway verifies deposits against Stripe payment intents and
// payouts against Stripe payouts.
type StripeGateway struct {
	logger *zap.Logger
}

func NewStripeGateway(apiKey string, logger *zap.Logger) *StripeGateway {
	stripe.Key = apiKey
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{logger: logger}
}

func (g *StripeGateway) VerifyDeposit(ctx context.Context, transactionID string, proof Proof) error {
	if proof.ProviderRef == "" {
		return domain.ErrProofRejected
	}
	intent, err := paymentintent.Get(proof.ProviderRef, nil)
	if err != nil {
		g.logger.Warn("stripe payment intent lookup failed",
			zap.String("transaction_id", transactionID), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return domain.ErrProofRejected
	}
	return nil
}

func (g *StripeGateway) ConfirmPayout(ctx context.Context, transactionID string, proof Proof) error {
	if proof.ProviderRef == "" {
		return domain.ErrProofRejected
	}
	p, err := payout.Get(proof.ProviderRef, nil)
	if err != nil {
		g.logger.Warn("stripe payout lookup failed",
			zap.String("transaction_id", transactionID), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if p.Status != stripe.PayoutStatusPaid {
		return domain.ErrProofRejected
	}
	return nil
}
