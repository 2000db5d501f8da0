package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types pushed to observers and archived
const (
	EventBidAccepted   = "bid_accepted"
	EventAuctionClosed = "auction_closed"
)

// AuctionEvent represents a state change of one auction.
// It is sent to:
// 1. the in-process Hub and Redis Pub/Sub (real-time WebSocket broadcast)
// 2. NATS JetStream (archival to PostgreSQL)
type AuctionEvent struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	AuctionID string    `json:"auction_id"`
	Timestamp time.Time `json:"timestamp"`

	// bid_accepted
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	BidderID          string           `json:"bidder_id,omitempty"`
	BidderDisplayName string           `json:"bidder_display_name,omitempty"`
	Sequence          int              `json:"sequence,omitempty"`

	// auction_closed
	FinalPrice        *decimal.Decimal `json:"final_price,omitempty"`
	WinnerID          string           `json:"winner_id,omitempty"`
	WinnerDisplayName string           `json:"winner_display_name,omitempty"`
}

// BidAmount returns the accepted amount, zero for other event types
func (e *AuctionEvent) BidAmount() decimal.Decimal {
	if e.Amount == nil {
		return decimal.Zero
	}
	return *e.Amount
}

// ClosingPrice returns the final price, zero for other event types
func (e *AuctionEvent) ClosingPrice() decimal.Decimal {
	if e.FinalPrice == nil {
		return decimal.Zero
	}
	return *e.FinalPrice
}
