// Package gateway adapts the external payment provider. The ledger calls it
// only outside its own locked transactions: a gateway timeout leaves the
// ledger entry PENDING for the sweep to retry or fail, never half-applied.
package gateway

import "context"

// Proof is the evidence a caller presents when completing a two-phase flow:
// the provider-side reference plus whatever extra fields the provider
// returned in its callback.
type Proof struct {
	ProviderRef string
	Fields      map[string]interface{}
}

// PaymentGateway verifies deposit proofs and confirms payouts.
type PaymentGateway interface {
	VerifyDeposit(ctx context.Context, transactionID string, proof Proof) error
	ConfirmPayout(ctx context.Context, transactionID string, proof Proof) error
}
