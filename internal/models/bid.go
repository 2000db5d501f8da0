package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is one entry of an auction's append-only bid log
type Bid struct {
	Bidder    Bidder          `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// BidRequest represents the incoming bid request from API and WebSocket clients
type BidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BidResponse represents the API response after placing a bid
type BidResponse struct {
	OK           bool            `json:"ok"`
	Reason       string          `json:"reason,omitempty"`
	MinimumBid   decimal.Decimal `json:"minimum_bid"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Auction      *Auction        `json:"auction,omitempty"`
}

// CreateAuctionRequest is the administrative payload for opening a new auction.
// When ProductID is set and a catalog is configured the snapshot fields are
// taken from the catalog instead.
type CreateAuctionRequest struct {
	ProductID       string          `json:"product_id" validate:"required_without=Name"`
	Name            string          `json:"name" validate:"max=200"`
	ImageURL        string          `json:"image_url" validate:"omitempty,max=500"`
	Category        string          `json:"category" validate:"max=100"`
	StartTime       time.Time       `json:"start_time" validate:"required"`
	EndTime         time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	IncrementAmount decimal.Decimal `json:"increment_amount"`
}
