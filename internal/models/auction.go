package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction represents one live auction of a catalog item
type Auction struct {
	ID              string              `json:"id"`
	Product         ProductSnapshot     `json:"product"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	StartingPrice   decimal.Decimal     `json:"starting_price"`
	CurrentPrice    decimal.Decimal     `json:"current_price"`
	IncrementAmount decimal.Decimal     `json:"increment_amount"`
	HighestBidder   *Bidder             `json:"highest_bidder,omitempty"`
	Bids            []Bid               `json:"bids"`
	Status          string              `json:"status"` // "active", "closed", "sold"
	Winner          *Bidder             `json:"winner,omitempty"`
	FinalPrice      decimal.NullDecimal `json:"final_price"`
	SoldDate        *time.Time          `json:"sold_date,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AuctionStatus constants
const (
	AuctionStatusActive = "active"
	AuctionStatusClosed = "closed"
	AuctionStatusSold   = "sold"
)

// DefaultIncrement is the minimum bid step when an auction is created without one
var DefaultIncrement = decimal.NewFromInt(100)

// ProductSnapshot is copied from the catalog when the auction is created,
// so display does not depend on the catalog entry staying unchanged.
type ProductSnapshot struct {
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Category  string `json:"category,omitempty"`
}

// Bidder is a weak reference to a user: identity and display name only
type Bidder struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// IsActive reports whether the stored status still accepts bids.
// It does not look at the clock; expiry is decided by the validator.
func (a *Auction) IsActive() bool {
	return a.Status == AuctionStatusActive
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.HighestBidder != nil {
		b := *a.HighestBidder
		c.HighestBidder = &b
	}
	if a.Winner != nil {
		w := *a.Winner
		c.Winner = &w
	}
	if a.SoldDate != nil {
		d := *a.SoldDate
		c.SoldDate = &d
	}
	c.Bids = make([]Bid, len(a.Bids))
	copy(c.Bids, a.Bids)
	return &c
}
