// Package nats publishes auction events to the JetStream archive stream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream and subject names shared by the gateway and the archival worker
const (
	StreamName    = "AUCTION_EVENTS"
	SubjectPrefix = "auction.events."
	SubjectAll    = SubjectPrefix + "*"
)

// Subject returns the subject carrying events of one auction
func Subject(auctionID string) string {
	return SubjectPrefix + auctionID
}

// AuctionIDFromSubject reverses Subject
func AuctionIDFromSubject(subject string) string {
	return strings.TrimPrefix(subject, SubjectPrefix)
}

// Connect opens a NATS connection that keeps reconnecting in the background
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("coin-auction"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// EnsureStream creates the archive stream or updates it in place
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Auction events awaiting archival",
		Subjects:    []string{SubjectAll},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", StreamName, err)
	}
	return nil
}

// Archiver sends committed events to JetStream. Publishing is asynchronous:
// a slow or absent NATS server never delays a bid.
type Archiver struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	timeout time.Duration
}

// NewArchiver creates the JetStream context and makes sure the stream exists
func NewArchiver(ctx context.Context, conn *nats.Conn, log zerolog.Logger) (*Archiver, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := EnsureStream(ctx, js); err != nil {
		return nil, err
	}

	log = log.With().Str("component", "archiver").Logger()
	log.Info().Str("stream", StreamName).Msg("JetStream stream ready")

	return &Archiver{
		js:      js,
		log:     log,
		timeout: 5 * time.Second,
	}, nil
}

// Publish sends the event in the background. The event id doubles as the
// JetStream message id so a repeated publish is deduplicated by the server.
func (a *Archiver) Publish(_ context.Context, event *models.AuctionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		a.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to marshal event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		ack, err := a.js.Publish(ctx, Subject(event.AuctionID), data, jetstream.WithMsgID(event.EventID))
		if err != nil {
			a.log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to publish to JetStream")
			return
		}
		a.log.Debug().
			Str("subject", Subject(event.AuctionID)).
			Uint64("seq", ack.Sequence).
			Bool("duplicate", ack.Duplicate).
			Msg("event archived to stream")
	}()
}
