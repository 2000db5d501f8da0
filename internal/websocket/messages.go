package websocket

import (
	"github.com/aaronwang/coin-auction/internal/gateway"
	"github.com/shopspring/decimal"
)

// Message types on the socket
const (
	typeConnected = "connected"
	typeBid       = "bid"
	typeBidResult = "bid_result"
	typeError     = "error"
)

// inboundMessage is what a client may send. Only bids are understood;
// Token overrides the credential given at connect time.
type inboundMessage struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token,omitempty"`
}

type connectedMessage struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	ClientID  string `json:"client_id"`
}

type bidResultMessage struct {
	Type         string          `json:"type"`
	OK           bool            `json:"ok"`
	Reason       string          `json:"reason,omitempty"`
	MinimumBid   decimal.Decimal `json:"minimum_bid"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorMessage(message string) *errorMsg {
	return &errorMsg{Type: typeError, Message: message}
}

func bidResult(out *gateway.Outcome) *bidResultMessage {
	return &bidResultMessage{
		Type:         typeBidResult,
		OK:           out.OK,
		Reason:       string(out.Reason),
		MinimumBid:   out.MinimumBid,
		CurrentPrice: out.CurrentPrice,
	}
}
