package service

import (
	"context"
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/google/uuid"
)

// EventPublisher receives committed auction events. Implementations must
// return quickly: Publish is called right after a commit.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.AuctionEvent)
}

func (s *BiddingService) publish(ctx context.Context, event *models.AuctionEvent) {
	for _, p := range s.publishers {
		p.Publish(ctx, event)
	}
}

func newBidAcceptedEvent(a *models.Auction, bid models.Bid) *models.AuctionEvent {
	amount := bid.Amount
	return &models.AuctionEvent{
		EventID:           uuid.New().String(),
		Type:              models.EventBidAccepted,
		AuctionID:         a.ID,
		Timestamp:         bid.Timestamp,
		Amount:            &amount,
		BidderID:          bid.Bidder.ID,
		BidderDisplayName: bid.Bidder.DisplayName,
		Sequence:          len(a.Bids),
	}
}

func newAuctionClosedEvent(a *models.Auction, now time.Time) *models.AuctionEvent {
	finalPrice := a.FinalPrice.Decimal
	event := &models.AuctionEvent{
		EventID:    uuid.New().String(),
		Type:       models.EventAuctionClosed,
		AuctionID:  a.ID,
		Timestamp:  now.UTC(),
		FinalPrice: &finalPrice,
	}
	if a.Winner != nil {
		event.WinnerID = a.Winner.ID
		event.WinnerDisplayName = a.Winner.DisplayName
	}
	return event
}
