package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aaronwang/coin-auction/internal/auction"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/store"
	"github.com/shopspring/decimal"
)

var (
	alice = models.Bidder{ID: "u-alice", DisplayName: "Alice"}
	bob   = models.Bidder{ID: "u-bob", DisplayName: "Bob"}
	carol = models.Bidder{ID: "u-carol", DisplayName: "Carol"}
)

// fakeClock is a settable clock shared by the service under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.AuctionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *models.AuctionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType string) []*models.AuctionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.AuctionEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// failingStore fails saves for the listed auction ids
type failingStore struct {
	store.AuctionStore
	failSave map[string]bool
}

func (s *failingStore) Save(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	if s.failSave[a.ID] {
		return nil, errors.New("connection reset by peer")
	}
	return s.AuctionStore.Save(ctx, a)
}

// racingStore commits a competing bid right before the first save, the way
// another gateway process would.
type racingStore struct {
	store.AuctionStore
	once   sync.Once
	rival  models.Bidder
	amount decimal.Decimal
}

func (s *racingStore) Save(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	s.once.Do(func() {
		current, err := s.AuctionStore.Get(ctx, a.ID)
		if err != nil {
			return
		}
		current.Bids = append(current.Bids, models.Bid{Bidder: s.rival, Amount: s.amount, Timestamp: time.Now().UTC()})
		current.CurrentPrice = s.amount
		rival := s.rival
		current.HighestBidder = &rival
		_, _ = s.AuctionStore.Save(ctx, current)
	})
	return s.AuctionStore.Save(ctx, a)
}

// closingStore lets another node's sweep close the auction right before the
// first save made after now is set
type closingStore struct {
	store.AuctionStore
	once sync.Once
	now  time.Time
}

func (s *closingStore) Save(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	if s.now.IsZero() {
		return s.AuctionStore.Save(ctx, a)
	}
	s.once.Do(func() {
		current, err := s.AuctionStore.Get(ctx, a.ID)
		if err != nil {
			return
		}
		if auction.Close(current, s.now) {
			_, _ = s.AuctionStore.Save(ctx, current)
		}
	})
	return s.AuctionStore.Save(ctx, a)
}

func newAuctionRequest(start, end time.Time) *models.CreateAuctionRequest {
	return &models.CreateAuctionRequest{
		Name:            "1893-S Morgan Dollar",
		Category:        "US Coins",
		StartTime:       start,
		EndTime:         end,
		StartingPrice:   decimal.NewFromInt(1000),
		IncrementAmount: decimal.NewFromInt(100),
	}
}
