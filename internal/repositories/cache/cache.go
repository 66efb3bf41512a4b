// Package cache provides the read-mostly wallet snapshot cache. Mutators
// only ever invalidate; nothing on the write path consults it, so readers
// may see brief staleness but correctness-critical decisions never do.
package cache

import (
	"context"
	"errors"

	"payvault/internal/models"
)

// ErrCacheMiss is returned when the requested key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// WalletCache is the snapshot cache port the services depend on.
type WalletCache interface {
	GetWallet(ctx context.Context, ownerID uint) (*models.Wallet, error)
	SetWallet(ctx context.Context, wallet *models.Wallet) error
	InvalidateWallet(ctx context.Context, ownerID uint) error
}

// Noop satisfies WalletCache without caching anything. Used in tests and
// when Redis is not configured.
type Noop struct{}

func (Noop) GetWallet(context.Context, uint) (*models.Wallet, error) { return nil, ErrCacheMiss }
func (Noop) SetWallet(context.Context, *models.Wallet) error         { return nil }
func (Noop) InvalidateWallet(context.Context, uint) error            { return nil }
