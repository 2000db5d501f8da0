// Package store defines the Auction Record Store, the single source of truth
// for auction state, and its in-memory backend.
package store

import (
	"context"
	"errors"

	"github.com/aaronwang/coin-auction/internal/models"
)

var (
	ErrNotFound      = errors.New("auction not found")
	ErrConflict      = errors.New("auction was modified concurrently")
	ErrAlreadyExists = errors.New("auction already exists")
)

// AuctionStore persists auction records keyed by id.
//
// Save is a conditional write: it succeeds only when the stored version still
// equals a.Version, and returns the record with its version bumped. A failed
// Save leaves the stored record exactly as it was.
type AuctionStore interface {
	Create(ctx context.Context, a *models.Auction) error
	Get(ctx context.Context, id string) (*models.Auction, error)
	ListActive(ctx context.Context) ([]*models.Auction, error)
	Save(ctx context.Context, a *models.Auction) (*models.Auction, error)
}
