// Package websocket serves the push channel: observers of an auction receive
// its events, and may submit bids over the same connection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aaronwang/coin-auction/internal/broadcast"
	"github.com/aaronwang/coin-auction/internal/gateway"
	"github.com/aaronwang/coin-auction/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Storefront and gateway are served from different origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BidSubmitter places bids on behalf of a credential. gateway.Gateway implements it.
type BidSubmitter interface {
	PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, credential string) (*gateway.Outcome, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub         *broadcast.Hub
	bids        BidSubmitter
	serviceName string
	bidTimeout  time.Duration
	log         zerolog.Logger
}

// NewHandler creates a WebSocket handler. bids may be nil, in which case
// the socket is watch-only.
func NewHandler(hub *broadcast.Hub, bids BidSubmitter, serviceName string, log zerolog.Logger) *Handler {
	return &Handler{
		hub:         hub,
		bids:        bids,
		serviceName: serviceName,
		bidTimeout:  5 * time.Second,
		log:         log.With().Str("component", "websocket").Logger(),
	}
}

// SetupRoutes returns a router for a standalone push-channel server
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	return router
}

// RegisterRoutes adds the socket and stats endpoints to an existing router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/auctions/{id}", h.HandleWebSocket)
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods("GET")
}

// HandleWebSocket upgrades HTTP connection to WebSocket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if auctionID == "" {
		http.Error(w, "auction id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := newClient(uuid.New().String(), auctionID, credentialFrom(r), conn, h.log)
	h.hub.Subscribe(auctionID, client)
	go client.writePump()

	client.reply(&connectedMessage{Type: typeConnected, AuctionID: auctionID, ClientID: client.id})

	go func() {
		defer func() {
			h.hub.Unsubscribe(auctionID, client)
			client.Close()
		}()
		// r.Context() is cancelled once the handler returns, so bids get their own
		client.readPump(context.Background(), h.handleMessage)
	}()
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, msg *inboundMessage) {
	if msg.Type != typeBid {
		c.reply(errorMessage("unsupported message type"))
		return
	}
	if h.bids == nil {
		c.reply(errorMessage("bidding is not available on this connection"))
		return
	}

	credential := c.credential
	if msg.Token != "" {
		credential = msg.Token
	}

	ctx, cancel := context.WithTimeout(ctx, h.bidTimeout)
	defer cancel()

	out, err := h.bids.PlaceBid(ctx, c.auctionID, msg.Amount, credential)
	if err != nil {
		if errors.Is(err, service.ErrAuctionNotFound) {
			c.reply(errorMessage("auction not found"))
			return
		}
		c.log.Error().Err(err).Msg("failed to place bid from socket")
		c.reply(errorMessage("failed to place bid"))
		return
	}
	c.reply(bidResult(out))
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.serviceName})
}

// GetStats returns the number of observers of an auction on this node
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id":  auctionID,
		"subscribers": h.hub.SubscriberCount(auctionID),
	})
}

// credentialFrom reads a bearer token from the header, or the token query
// parameter since browsers cannot set headers on a socket handshake.
func credentialFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
