package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aaronwang/coin-auction/internal/auction"
	"github.com/aaronwang/coin-auction/internal/catalog"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BiddingService handles the business logic for bidding operations.
// Every write to an auction, bid or closure, happens under that auction's
// lock and goes through the store's conditional save.
type BiddingService struct {
	store      store.AuctionStore
	catalog    catalog.Catalog
	publishers []EventPublisher
	locks      *keyedMutex
	clock      func() time.Time
	log        zerolog.Logger
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock replaces time.Now, mostly for tests
func WithClock(clock func() time.Time) Option {
	return func(s *BiddingService) { s.clock = clock }
}

// WithCatalog enables product snapshots by product id
func WithCatalog(c catalog.Catalog) Option {
	return func(s *BiddingService) { s.catalog = c }
}

// WithPublishers registers receivers of committed events
func WithPublishers(p ...EventPublisher) Option {
	return func(s *BiddingService) { s.publishers = append(s.publishers, p...) }
}

// NewBiddingService creates a new bidding service
func NewBiddingService(st store.AuctionStore, log zerolog.Logger, opts ...Option) *BiddingService {
	s := &BiddingService{
		store: st,
		locks: newKeyedMutex(),
		clock: time.Now,
		log:   log.With().Str("component", "bidding").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BidResult is the outcome of one bid attempt. Rejections are results, not errors.
type BidResult struct {
	Accepted     bool
	Reason       auction.Reason
	MinimumBid   decimal.Decimal
	CurrentPrice decimal.Decimal
	Auction      *models.Auction
}

func rejected(a *models.Auction, reason auction.Reason, minimum decimal.Decimal) *BidResult {
	return &BidResult{
		Reason:       reason,
		MinimumBid:   minimum,
		CurrentPrice: a.CurrentPrice,
		Auction:      a,
	}
}

// PlaceBid validates and commits a bid:
// 1. Take the auction's lock
// 2. Re-read the auction from the store
// 3. Validate against that fresh snapshot
// 4. Append the bid and save conditionally on the version read in step 2
// 5. Publish BidAccepted to observers and the archive
//
// A bid is never retried with another amount. When another writer commits
// between steps 2 and 4 the bid is re-validated and reported as rejected.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID string, bidder models.Bidder, amount decimal.Decimal) (*BidResult, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	current, err := s.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	decision := auction.Validate(current, amount, bidder, now)
	if !decision.Accepted {
		s.log.Debug().
			Str("auction_id", auctionID).
			Str("bidder_id", bidder.ID).
			Str("amount", amount.String()).
			Str("reason", string(decision.Reason)).
			Msg("bid rejected")
		return rejected(current, decision.Reason, decision.MinimumBid), nil
	}

	next := current.Clone()
	bid := auction.ApplyBid(next, bidder, amount, now)

	saved, err := s.store.Save(ctx, next)
	if errors.Is(err, store.ErrConflict) {
		return s.resolveConflict(ctx, auctionID, bidder, amount)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save bid on auction %s: %w", auctionID, err)
	}

	s.log.Info().
		Str("auction_id", auctionID).
		Str("bidder_id", bidder.ID).
		Str("amount", amount.String()).
		Int("sequence", len(saved.Bids)).
		Msg("bid accepted")

	s.publish(ctx, newBidAcceptedEvent(saved, bid))

	return &BidResult{
		Accepted:     true,
		MinimumBid:   auction.MinimumBid(saved),
		CurrentPrice: saved.CurrentPrice,
		Auction:      saved,
	}, nil
}

// resolveConflict re-validates a bid that lost a commit race against the
// state that won it.
func (s *BiddingService) resolveConflict(ctx context.Context, auctionID string, bidder models.Bidder, amount decimal.Decimal) (*BidResult, error) {
	fresh, err := s.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	decision := auction.Validate(fresh, amount, bidder, s.clock())
	reason := decision.Reason
	if decision.Accepted {
		reason = auction.ReasonSuperseded
	}

	s.log.Debug().
		Str("auction_id", auctionID).
		Str("bidder_id", bidder.ID).
		Str("reason", string(reason)).
		Msg("bid lost commit race")
	return rejected(fresh, reason, decision.MinimumBid), nil
}

// GetAuction returns one auction's public state. An auction that is past its
// end time but not yet reconciled is closed before it is returned.
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (*models.Auction, error) {
	a, err := s.get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if !auction.IsExpired(a, now) {
		return a, nil
	}

	if _, err := s.CloseIfExpired(ctx, auctionID, now); err != nil {
		// The reconciler will retry; the stale view is still correct about price and leader
		s.log.Warn().Err(err).Str("auction_id", auctionID).Msg("failed to close expired auction on read")
		return a, nil
	}
	return s.get(ctx, auctionID)
}

// ListActive returns auctions that are still open for bidding right now
func (s *BiddingService) ListActive(ctx context.Context) ([]*models.Auction, error) {
	auctions, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}

	now := s.clock()
	open := make([]*models.Auction, 0, len(auctions))
	for _, a := range auctions {
		if !auction.IsExpired(a, now) {
			open = append(open, a)
		}
	}
	return open, nil
}

// CloseIfExpired finalizes one auction if it is active and past its end
// time. It takes the same lock as PlaceBid, so a closure and a bid on the
// same auction never interleave.
func (s *BiddingService) CloseIfExpired(ctx context.Context, auctionID string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	a, err := s.get(ctx, auctionID)
	if err != nil {
		return false, err
	}
	if !auction.Close(a, now) {
		return false, nil
	}

	saved, err := s.store.Save(ctx, a)
	if errors.Is(err, store.ErrConflict) {
		// Another node's sweep got there first
		current, getErr := s.get(ctx, auctionID)
		if getErr != nil {
			return false, getErr
		}
		if !current.IsActive() {
			s.log.Debug().Str("auction_id", auctionID).Msg("auction already closed elsewhere")
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to save closed auction %s: %w", auctionID, err)
	}

	event := newAuctionClosedEvent(saved, now)
	s.log.Info().
		Str("auction_id", auctionID).
		Str("final_price", event.ClosingPrice().String()).
		Str("winner_id", event.WinnerID).
		Msg("auction closed")

	s.publish(ctx, event)
	return true, nil
}

// CreateAuction opens a new auction. The product snapshot is copied from the
// catalog when a product id is given and a catalog is configured.
func (s *BiddingService) CreateAuction(ctx context.Context, req *models.CreateAuctionRequest) (*models.Auction, error) {
	if !req.StartingPrice.IsPositive() {
		return nil, fmt.Errorf("%w: starting price must be positive", ErrInvalidAuction)
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidAuction)
	}
	increment := req.IncrementAmount
	if increment.IsZero() {
		increment = models.DefaultIncrement
	}
	if increment.IsNegative() {
		return nil, fmt.Errorf("%w: increment must be positive", ErrInvalidAuction)
	}

	product, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	a := &models.Auction{
		ID:              uuid.New().String(),
		Product:         product,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		StartingPrice:   req.StartingPrice,
		CurrentPrice:    req.StartingPrice,
		IncrementAmount: increment,
		Bids:            []models.Bid{},
		Status:          models.AuctionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	s.log.Info().
		Str("auction_id", a.ID).
		Str("product", a.Product.Name).
		Time("end_time", a.EndTime).
		Msg("auction created")
	return a, nil
}

func (s *BiddingService) snapshot(ctx context.Context, req *models.CreateAuctionRequest) (models.ProductSnapshot, error) {
	if req.ProductID != "" && s.catalog != nil {
		p, err := s.catalog.Snapshot(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return models.ProductSnapshot{}, ErrProductNotFound
			}
			return models.ProductSnapshot{}, fmt.Errorf("failed to snapshot product: %w", err)
		}
		return p, nil
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.ProductSnapshot{}, fmt.Errorf("%w: product name is required", ErrInvalidAuction)
	}
	return models.ProductSnapshot{
		ProductID: req.ProductID,
		Name:      name,
		ImageURL:  req.ImageURL,
		Category:  req.Category,
	}, nil
}

func (s *BiddingService) get(ctx context.Context, auctionID string) (*models.Auction, error) {
	a, err := s.store.Get(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// Now returns the service clock
func (s *BiddingService) Now() time.Time {
	return s.clock()
}
