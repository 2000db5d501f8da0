// Package gateway is the single entry point for bid submissions. The HTTP
// handler and the WebSocket bid message both go through Gateway.PlaceBid.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronwang/coin-auction/internal/auction"
	"github.com/aaronwang/coin-auction/internal/identity"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/service"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BidPlacer commits validated bids. service.BiddingService implements it.
type BidPlacer interface {
	PlaceBid(ctx context.Context, auctionID string, bidder models.Bidder, amount decimal.Decimal) (*service.BidResult, error)
}

// Outcome is what a caller learns about its bid
type Outcome struct {
	OK           bool
	Reason       auction.Reason
	MinimumBid   decimal.Decimal
	CurrentPrice decimal.Decimal
	Auction      *models.Auction
}

// Response converts the outcome to its wire form
func (o *Outcome) Response() *models.BidResponse {
	resp := &models.BidResponse{
		OK:           o.OK,
		Reason:       string(o.Reason),
		MinimumBid:   o.MinimumBid,
		CurrentPrice: o.CurrentPrice,
	}
	if o.OK {
		resp.Auction = o.Auction
	}
	return resp
}

// Gateway authenticates the caller and hands the bid to the applier
type Gateway struct {
	identity identity.Provider
	bids     BidPlacer
	log      zerolog.Logger
}

// New creates a bid gateway
func New(provider identity.Provider, bids BidPlacer, log zerolog.Logger) *Gateway {
	return &Gateway{
		identity: provider,
		bids:     bids,
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// PlaceBid resolves the credential and submits the bid. Rejections, including
// an invalid credential, are returned as outcomes; errors are reserved for
// unknown auctions and infrastructure failures.
func (g *Gateway) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, credential string) (*Outcome, error) {
	bidder, err := g.identity.Resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			g.log.Debug().Str("auction_id", auctionID).Msg("bid with invalid credential")
			return &Outcome{Reason: auction.ReasonInvalidCredential}, nil
		}
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	res, err := g.bids.PlaceBid(ctx, auctionID, bidder, amount)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		OK:           res.Accepted,
		Reason:       res.Reason,
		MinimumBid:   res.MinimumBid,
		CurrentPrice: res.CurrentPrice,
		Auction:      res.Auction,
	}, nil
}
