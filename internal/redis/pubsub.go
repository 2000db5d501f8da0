package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const eventChannelPrefix = "auction_events:"

// EventChannel returns the Pub/Sub channel carrying events of one auction
func EventChannel(auctionID string) string {
	return eventChannelPrefix + auctionID
}

// EventPublisher relays auction events to Redis Pub/Sub so broadcast-service
// nodes can fan them out to their own WebSocket observers. Events are queued
// and sent by a single goroutine so observers see them in commit order.
type EventPublisher struct {
	client  *redis.Client
	log     zerolog.Logger
	timeout time.Duration
	queue   chan *models.AuctionEvent
	done    chan struct{}
	once    sync.Once
}

// NewEventPublisher creates a Pub/Sub publisher and starts its send loop
func NewEventPublisher(client *redis.Client, log zerolog.Logger) *EventPublisher {
	p := &EventPublisher{
		client:  client,
		log:     log.With().Str("component", "redis-publisher").Logger(),
		timeout: 2 * time.Second,
		queue:   make(chan *models.AuctionEvent, 1024),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues the event; the bid commit never waits on Redis.
// When the queue is full the event is dropped and logged.
func (p *EventPublisher) Publish(_ context.Context, event *models.AuctionEvent) {
	select {
	case p.queue <- event:
	default:
		p.log.Warn().Str("event_id", event.EventID).Msg("publish queue full, dropping event")
	}
}

// Close stops the send loop after the queued events are flushed
func (p *EventPublisher) Close() {
	p.once.Do(func() { close(p.queue) })
	<-p.done
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			p.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to marshal event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.client.Publish(ctx, EventChannel(event.AuctionID), payload).Err(); err != nil {
			p.log.Warn().Err(err).Str("auction_id", event.AuctionID).Msg("failed to publish event")
		}
		cancel()
	}
}

// Message represents a parsed Pub/Sub message
type Message struct {
	AuctionID string
	Payload   []byte
}

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    zerolog.Logger
}

// NewSubscriber creates a new Redis Pub/Sub subscriber
func NewSubscriber(client *redis.Client, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		log:    log.With().Str("component", "redis-subscriber").Logger(),
	}
}

// SubscribeAll subscribes to events of every auction using pattern matching
func (s *Subscriber) SubscribeAll(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, eventChannelPrefix+"*")
	// Wait for confirmation so no event published right after is missed
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Listen forwards messages to handle until ctx is done.
// This is a blocking operation - run in a goroutine
func (s *Subscriber) Listen(ctx context.Context, handle func(*Message)) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			auctionID := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
			if auctionID == "" || !json.Valid([]byte(msg.Payload)) {
				s.log.Warn().Str("channel", msg.Channel).Msg("dropping malformed message")
				continue
			}
			handle(&Message{
				AuctionID: auctionID,
				Payload:   []byte(msg.Payload),
			})
		}
	}
}

// Close closes the subscription
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
