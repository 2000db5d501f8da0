package consumer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aaronwang/coin-auction/internal/models"
	anats "github.com/aaronwang/coin-auction/internal/nats"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// syncArchive counts archive attempts per event and can fail the first ones
type syncArchive struct {
	mu       sync.Mutex
	attempts map[string]int
	archived map[string]int
	failures map[string]int
}

func newSyncArchive() *syncArchive {
	return &syncArchive{
		attempts: make(map[string]int),
		archived: make(map[string]int),
		failures: make(map[string]int),
	}
}

func (a *syncArchive) failNext(eventID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[eventID] = n
}

func (a *syncArchive) record(event *models.AuctionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts[event.EventID]++
	if a.failures[event.EventID] > 0 {
		a.failures[event.EventID]--
		return errors.New("connection refused")
	}
	a.archived[event.EventID]++
	return nil
}

func (a *syncArchive) InsertBid(_ context.Context, event *models.AuctionEvent) error {
	return a.record(event)
}

func (a *syncArchive) RecordResult(_ context.Context, event *models.AuctionEvent) error {
	return a.record(event)
}

func (a *syncArchive) counts(eventID string) (attempts, archived int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[eventID], a.archived[eventID]
}

func (a *syncArchive) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.attempts {
		n += c
	}
	return n
}

// logBuffer is a zerolog sink safe for the consumer's callback goroutine
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), msg)
}

type pipeline struct {
	archiver *anats.Archiver
	js       jetstream.JetStream
	archive  *syncArchive
	logs     *logBuffer
}

// startPipeline runs an embedded JetStream server with the archiver on one
// side and a running ArchiveConsumer on the other
func startPipeline(t *testing.T) *pipeline {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	conn, err := anats.Connect(srv.ClientURL(), zerolog.Nop())
	assert.NoError(t, err)
	t.Cleanup(conn.Close)

	ctx, cancel := context.WithCancel(context.Background())
	archiver, err := anats.NewArchiver(ctx, conn, zerolog.Nop())
	assert.NoError(t, err)

	js, err := jetstream.New(conn)
	assert.NoError(t, err)

	p := &pipeline{
		archiver: archiver,
		js:       js,
		archive:  newSyncArchive(),
		logs:     &logBuffer{},
	}

	worker := NewArchiveConsumer(js, p.archive, zerolog.New(p.logs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Start(ctx); err != nil {
			t.Errorf("consumer stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func bidAccepted(eventID string, amount int64) *models.AuctionEvent {
	d := decimal.NewFromInt(amount)
	return &models.AuctionEvent{
		EventID:           eventID,
		Type:              models.EventBidAccepted,
		AuctionID:         "a1",
		Timestamp:         time.Now().UTC(),
		Amount:            &d,
		BidderID:          "u-alice",
		BidderDisplayName: "Alice",
		Sequence:          1,
	}
}

func TestPipeline_DuplicatePublishArchivedOnce(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()
	event := bidAccepted("e-dup", 1100)

	p.archiver.Publish(ctx, event)
	p.archiver.Publish(ctx, event)

	waitFor(t, func() bool {
		_, archived := p.archive.counts("e-dup")
		return archived == 1
	})

	// the same message id is still inside the duplicate window
	data := payload(t, event)
	ack, err := p.js.Publish(ctx, anats.Subject("a1"), data, jetstream.WithMsgID("e-dup"))
	assert.NoError(t, err)
	check.True(t, ack.Duplicate)

	stream, err := p.js.Stream(ctx, anats.StreamName)
	assert.NoError(t, err)
	info, err := stream.Info(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), info.State.LastSeq)

	time.Sleep(200 * time.Millisecond)
	attempts, archived := p.archive.counts("e-dup")
	check.Equal(t, 1, attempts)
	check.Equal(t, 1, archived)
}

func TestPipeline_ArchiveErrorIsRedelivered(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()
	p.archive.failNext("e-retry", 2)

	p.archiver.Publish(ctx, bidAccepted("e-retry", 1200))

	waitFor(t, func() bool {
		_, archived := p.archive.counts("e-retry")
		return archived == 1
	})
	attempts, archived := p.archive.counts("e-retry")
	check.Equal(t, 3, attempts)
	check.Equal(t, 1, archived)
	check.Equal(t, 2, p.logs.count("will retry"))

	cons, err := p.js.Consumer(ctx, anats.StreamName, DurableName)
	assert.NoError(t, err)
	waitFor(t, func() bool {
		info, err := cons.Info(ctx)
		return err == nil && info.NumAckPending == 0
	})
	info, err := cons.Info(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(3), info.Delivered.Consumer)
}

func TestPipeline_MalformedMessageIsNotRedelivered(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	_, err := p.js.Publish(ctx, anats.Subject("a1"), []byte("{bad"))
	assert.NoError(t, err)
	_, err = p.js.Publish(ctx, anats.Subject("a1"), []byte(`{"event_id":"e-x","auction_id":"a1","type":"bid_retracted"}`))
	assert.NoError(t, err)
	p.archiver.Publish(ctx, bidAccepted("e-after", 1300))

	// messages on one subject arrive in order, so the good event marks the
	// bad ones as handled
	waitFor(t, func() bool {
		_, archived := p.archive.counts("e-after")
		return archived == 1
	})
	time.Sleep(200 * time.Millisecond)

	check.Equal(t, 2, p.logs.count("terminating malformed message"))
	check.Equal(t, 0, p.logs.count("will retry"))
	check.Equal(t, 1, p.archive.total())

	cons, err := p.js.Consumer(ctx, anats.StreamName, DurableName)
	assert.NoError(t, err)
	info, err := cons.Info(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(3), info.Delivered.Stream)
	check.Equal(t, uint64(3), info.Delivered.Consumer)
}
