package auction

import (
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/shopspring/decimal"
)

// ApplyBid appends an accepted bid and moves price and leader with it.
// The caller must have validated the bid against a.
func ApplyBid(a *models.Auction, bidder models.Bidder, amount decimal.Decimal, now time.Time) models.Bid {
	bid := models.Bid{
		Bidder:    bidder,
		Amount:    amount,
		Timestamp: now.UTC(),
	}
	a.Bids = append(a.Bids, bid)
	a.CurrentPrice = amount
	leader := bidder
	a.HighestBidder = &leader
	a.UpdatedAt = now.UTC()
	return bid
}

// IsExpired reports whether an active auction is past its end time
func IsExpired(a *models.Auction, now time.Time) bool {
	return a.IsActive() && now.After(a.EndTime)
}

// Close finalizes an expired active auction. It returns false and leaves a
// untouched when there is nothing to do, which makes repeated calls no-ops.
func Close(a *models.Auction, now time.Time) bool {
	if !IsExpired(a, now) {
		return false
	}
	a.Status = models.AuctionStatusClosed
	if a.HighestBidder != nil {
		w := *a.HighestBidder
		a.Winner = &w
	}
	a.FinalPrice = decimal.NewNullDecimal(a.CurrentPrice)
	soldAt := now.UTC()
	a.SoldDate = &soldAt
	a.UpdatedAt = soldAt
	return true
}
