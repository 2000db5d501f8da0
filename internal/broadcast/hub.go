// Package broadcast fans auction events out to the observers of each auction.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/rs/zerolog"
)

// Observer receives the raw JSON of events for the auctions it subscribed to.
// Deliver must not block; it returns false when the observer cannot keep up.
type Observer interface {
	ID() string
	Deliver(payload []byte) bool
	Close()
}

// Hub keeps the observer set of every auction. Delivery is best effort and
// at most once: nothing is buffered for observers that are not connected.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[Observer]struct{} // auctionID -> observers
	log         zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[Observer]struct{}),
		log:         log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe adds an observer to an auction's channel
func (h *Hub) Subscribe(auctionID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[auctionID]
	if !ok {
		set = make(map[Observer]struct{})
		h.subscribers[auctionID] = set
	}
	set[o] = struct{}{}

	h.log.Debug().Str("auction_id", auctionID).Str("observer", o.ID()).Msg("observer subscribed")
}

// Unsubscribe removes an observer; it reports whether the observer was subscribed
func (h *Hub) Unsubscribe(auctionID string, o Observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[auctionID]
	if !ok {
		return false
	}
	if _, ok := set[o]; !ok {
		return false
	}
	delete(set, o)
	if len(set) == 0 {
		delete(h.subscribers, auctionID)
	}

	h.log.Debug().Str("auction_id", auctionID).Str("observer", o.ID()).Msg("observer unsubscribed")
	return true
}

// Publish sends an event to every observer of its auction
func (h *Hub) Publish(_ context.Context, event *models.AuctionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to marshal event")
		return
	}
	h.PublishRaw(event.AuctionID, payload)
}

// PublishRaw sends an already encoded event to every observer of auctionID.
// It never blocks: an observer whose buffer is full is dropped so one slow
// client cannot hold up the others or the bid that caused the event.
func (h *Hub) PublishRaw(auctionID string, payload []byte) int {
	h.mu.RLock()
	observers := make([]Observer, 0, len(h.subscribers[auctionID]))
	for o := range h.subscribers[auctionID] {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, o := range observers {
		if o.Deliver(payload) {
			delivered++
			continue
		}
		if h.Unsubscribe(auctionID, o) {
			h.log.Warn().Str("auction_id", auctionID).Str("observer", o.ID()).Msg("dropping slow observer")
			o.Close()
		}
	}

	h.log.Debug().Str("auction_id", auctionID).Int("delivered", delivered).Msg("broadcast event")
	return delivered
}

// SubscriberCount returns the number of observers watching an auction
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[auctionID])
}
