package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aaronwang/coin-auction/internal/models"
)

// ArchiveClient writes the long-term history of auctions: every accepted
// bid and the final result of every closed auction. Writes are keyed on
// event ids so redelivered events are harmless.
type ArchiveClient struct {
	db *sql.DB
}

// NewArchiveClient creates an archive writer
func NewArchiveClient(db *sql.DB) *ArchiveClient {
	return &ArchiveClient{db: db}
}

// InsertBid archives an accepted bid
func (c *ArchiveClient) InsertBid(ctx context.Context, event *models.AuctionEvent) error {
	query, args, err := psql.
		Insert("bid_archive").
		Columns("event_id", "auction_id", "sequence", "bidder_id", "bidder_name", "amount", "placed_at").
		Values(event.EventID, event.AuctionID, event.Sequence, event.BidderID, event.BidderDisplayName, event.BidAmount(), event.Timestamp.UTC()).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build bid insert: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// RecordResult archives the outcome of a closed auction
func (c *ArchiveClient) RecordResult(ctx context.Context, event *models.AuctionEvent) error {
	query, args, err := psql.
		Insert("auction_results").
		Columns("auction_id", "event_id", "winner_id", "winner_name", "final_price", "closed_at").
		Values(event.AuctionID, event.EventID, nullString(event.WinnerID), nullString(event.WinnerDisplayName), event.ClosingPrice(), event.Timestamp.UTC()).
		Suffix("ON CONFLICT (auction_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build result insert: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}
