// Package auction holds the bidding rules: the pure bid validator and the
// state transitions applied to an auction record once a decision is made.
package auction

import (
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/shopspring/decimal"
)

// Reason explains why a bid was not accepted
type Reason string

// Rejection reasons returned to callers
const (
	ReasonNotActive         Reason = "NotActive"
	ReasonExpired           Reason = "Expired"
	ReasonBidTooLow         Reason = "BidTooLow"
	ReasonInvalidCredential Reason = "InvalidCredential"
	ReasonSuperseded        Reason = "Superseded"
)

// Decision is the outcome of validating a proposed bid against a snapshot
type Decision struct {
	Accepted   bool
	Reason     Reason
	MinimumBid decimal.Decimal
}

// MinimumBid returns the lowest amount the next bid may carry.
// The first bid must reach the starting price; every later bid must beat
// the current price by at least the increment.
func MinimumBid(a *models.Auction) decimal.Decimal {
	if len(a.Bids) == 0 {
		return a.StartingPrice
	}
	return a.CurrentPrice.Add(a.IncrementAmount)
}

// Validate decides whether amount may be bid on a at time now.
// It has no side effects.
func Validate(a *models.Auction, amount decimal.Decimal, bidder models.Bidder, now time.Time) Decision {
	minimum := MinimumBid(a)

	if !a.IsActive() || now.Before(a.StartTime) {
		return Decision{Reason: ReasonNotActive, MinimumBid: minimum}
	}

	// The stored status may lag behind the clock until the reconciler runs.
	if now.After(a.EndTime) {
		return Decision{Reason: ReasonExpired, MinimumBid: minimum}
	}

	if amount.LessThan(minimum) {
		return Decision{Reason: ReasonBidTooLow, MinimumBid: minimum}
	}

	return Decision{Accepted: true, MinimumBid: minimum}
}
