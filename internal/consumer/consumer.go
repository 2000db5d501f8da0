// Package consumer drains the JetStream archive stream into PostgreSQL.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	anats "github.com/aaronwang/coin-auction/internal/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DurableName identifies the archival worker's consumer on the stream
const DurableName = "archival-worker"

var errMalformed = errors.New("malformed event")

// Archive persists events. database.ArchiveClient implements it.
type Archive interface {
	InsertBid(ctx context.Context, event *models.AuctionEvent) error
	RecordResult(ctx context.Context, event *models.AuctionEvent) error
}

// ArchiveConsumer consumes auction events from JetStream and persists them
type ArchiveConsumer struct {
	js        jetstream.JetStream
	archive   Archive
	log       zerolog.Logger
	dbTimeout time.Duration
}

// NewArchiveConsumer creates a consumer over an existing JetStream context
func NewArchiveConsumer(js jetstream.JetStream, archive Archive, log zerolog.Logger) *ArchiveConsumer {
	return &ArchiveConsumer{
		js:        js,
		archive:   archive,
		log:       log.With().Str("component", "archive-consumer").Logger(),
		dbTimeout: 10 * time.Second,
	}
}

// Start binds the durable consumer and processes messages until ctx is done.
// This is a blocking operation - run in a goroutine
func (c *ArchiveConsumer) Start(ctx context.Context) error {
	if err := anats.EnsureStream(ctx, c.js); err != nil {
		return err
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, anats.StreamName, jetstream.ConsumerConfig{
		Durable:       DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: anats.SubjectAll,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info().Str("stream", anats.StreamName).Str("durable", DurableName).Msg("consuming auction events")

	<-ctx.Done()
	return nil
}

func (c *ArchiveConsumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			c.log.Warn().Err(ackErr).Str("subject", msg.Subject()).Msg("failed to ack message")
		}
	case errors.Is(err, errMalformed):
		// Redelivery cannot fix a bad payload
		c.log.Error().Err(err).Str("subject", msg.Subject()).Msg("terminating malformed message")
		_ = msg.Term()
	default:
		c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("failed to archive event, will retry")
		_ = msg.Nak()
	}
}

// process persists one event payload
func (c *ArchiveConsumer) process(ctx context.Context, data []byte) error {
	var event models.AuctionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.EventID == "" || event.AuctionID == "" {
		return fmt.Errorf("%w: missing event or auction id", errMalformed)
	}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	switch event.Type {
	case models.EventBidAccepted:
		if err := c.archive.InsertBid(dbCtx, &event); err != nil {
			return fmt.Errorf("failed to archive bid %s: %w", event.EventID, err)
		}
		c.log.Info().
			Str("event_id", event.EventID).
			Str("auction_id", event.AuctionID).
			Str("amount", event.BidAmount().String()).
			Msg("archived bid")
	case models.EventAuctionClosed:
		if err := c.archive.RecordResult(dbCtx, &event); err != nil {
			return fmt.Errorf("failed to archive result of %s: %w", event.AuctionID, err)
		}
		c.log.Info().
			Str("auction_id", event.AuctionID).
			Str("final_price", event.ClosingPrice().String()).
			Msg("archived auction result")
	default:
		return fmt.Errorf("%w: unknown event type %q", errMalformed, event.Type)
	}
	return nil
}
