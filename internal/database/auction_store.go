package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/store"
)

var auctionColumns = []string{
	"id", "product_id", "product_name", "product_image_url", "product_category",
	"start_time", "end_time", "starting_price", "current_price", "increment_amount",
	"highest_bidder_id", "highest_bidder_name", "status",
	"winner_id", "winner_name", "final_price", "sold_date",
	"version", "created_at", "updated_at",
}

var bidColumns = []string{"auction_id", "seq", "bidder_id", "bidder_name", "amount", "placed_at"}

// AuctionStore keeps auction records in PostgreSQL. The bid log lives in
// auction_bids and is written in the same transaction as the auction row.
type AuctionStore struct {
	db *sql.DB
}

// NewAuctionStore creates a PostgreSQL backed store
func NewAuctionStore(db *sql.DB) *AuctionStore {
	return &AuctionStore{db: db}
}

// Create inserts the auction and its bid log in one transaction
func (s *AuctionStore) Create(ctx context.Context, a *models.Auction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := psql.
		Insert("auctions").
		Columns(auctionColumns...).
		Values(auctionValues(a, 1)...).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrAlreadyExists
	}

	if err := insertBids(ctx, tx, a, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit auction: %w", err)
	}

	a.Version = 1
	return nil
}

// Get loads one auction with its bids in sequence order
func (s *AuctionStore) Get(ctx context.Context, id string) (*models.Auction, error) {
	query, args, err := psql.Select(auctionColumns...).From("auctions").Where("id = ?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	a, err := scanAuction(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction %s: %w", id, err)
	}

	bids, err := s.loadBids(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	a.Bids = bids[id]
	if a.Bids == nil {
		a.Bids = []models.Bid{}
	}
	return a, nil
}

// ListActive loads every active auction, soonest ending first
func (s *AuctionStore) ListActive(ctx context.Context) ([]*models.Auction, error) {
	query, args, err := psql.
		Select(auctionColumns...).
		From("auctions").
		Where(sq.Eq{"status": models.AuctionStatusActive}).
		OrderBy("end_time ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active auctions: %w", err)
	}
	defer rows.Close()

	auctions := make([]*models.Auction, 0)
	ids := make([]string, 0)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}
	if len(ids) == 0 {
		return auctions, nil
	}

	bids, err := s.loadBids(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range auctions {
		a.Bids = bids[a.ID]
		if a.Bids == nil {
			a.Bids = []models.Bid{}
		}
	}
	return auctions, nil
}

// Save updates the auction row guarded by its version and appends new bid
// log entries in the same transaction.
func (s *AuctionStore) Save(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := a.Clone()
	next.Version = a.Version + 1
	next.UpdatedAt = next.UpdatedAt.UTC()
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	query, args, err := psql.
		Update("auctions").
		Set("current_price", next.CurrentPrice).
		Set("highest_bidder_id", bidderID(next.HighestBidder)).
		Set("highest_bidder_name", bidderName(next.HighestBidder)).
		Set("status", next.Status).
		Set("winner_id", bidderID(next.Winner)).
		Set("winner_name", bidderName(next.Winner)).
		Set("final_price", next.FinalPrice).
		Set("sold_date", next.SoldDate).
		Set("version", next.Version).
		Set("updated_at", next.UpdatedAt).
		Where("id = ? AND version = ?", a.ID, a.Version).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)", a.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check auction: %w", err)
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConflict
	}

	// The UPDATE above holds the auction row lock, so the stored log cannot grow under us
	var stored int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM auction_bids WHERE auction_id = $1", a.ID).Scan(&stored); err != nil {
		return nil, fmt.Errorf("failed to read bid log length: %w", err)
	}
	if err := insertBids(ctx, tx, next, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit auction: %w", err)
	}
	return next, nil
}

// insertBids appends the bid log entries after the first stored ones.
// Sequence numbers are 1-based positions in the log.
func insertBids(ctx context.Context, tx *sql.Tx, a *models.Auction, stored int) error {
	if stored >= len(a.Bids) {
		return nil
	}

	insert := psql.Insert("auction_bids").Columns(bidColumns...)
	for i := stored; i < len(a.Bids); i++ {
		b := a.Bids[i]
		insert = insert.Values(a.ID, i+1, b.Bidder.ID, b.Bidder.DisplayName, b.Amount, b.Timestamp.UTC())
	}
	query, args, err := insert.Suffix("ON CONFLICT (auction_id, seq) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("failed to build bid insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert bids: %w", err)
	}
	return nil
}

func (s *AuctionStore) loadBids(ctx context.Context, auctionIDs []string) (map[string][]models.Bid, error) {
	query, args, err := psql.
		Select(bidColumns...).
		From("auction_bids").
		Where(sq.Eq{"auction_id": auctionIDs}).
		OrderBy("auction_id", "seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bid select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := make(map[string][]models.Bid)
	for rows.Next() {
		var (
			auctionID string
			seq       int
			b         models.Bid
		)
		if err := rows.Scan(&auctionID, &seq, &b.Bidder.ID, &b.Bidder.DisplayName, &b.Amount, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids[auctionID] = append(bids[auctionID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", err)
	}
	return bids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*models.Auction, error) {
	var (
		a                                    models.Auction
		productID, imageURL, category        sql.NullString
		leaderID, leaderName, winID, winName sql.NullString
		soldDate                             sql.NullTime
	)
	err := row.Scan(
		&a.ID, &productID, &a.Product.Name, &imageURL, &category,
		&a.StartTime, &a.EndTime, &a.StartingPrice, &a.CurrentPrice, &a.IncrementAmount,
		&leaderID, &leaderName, &a.Status,
		&winID, &winName, &a.FinalPrice, &soldDate,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Product.ProductID = productID.String
	a.Product.ImageURL = imageURL.String
	a.Product.Category = category.String
	a.HighestBidder = bidderFrom(leaderID, leaderName)
	a.Winner = bidderFrom(winID, winName)
	if soldDate.Valid {
		t := soldDate.Time
		a.SoldDate = &t
	}
	return &a, nil
}

func auctionValues(a *models.Auction, version int64) []any {
	now := time.Now().UTC()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	return []any{
		a.ID, nullString(a.Product.ProductID), a.Product.Name, nullString(a.Product.ImageURL), nullString(a.Product.Category),
		a.StartTime.UTC(), a.EndTime.UTC(), a.StartingPrice, a.CurrentPrice, a.IncrementAmount,
		bidderID(a.HighestBidder), bidderName(a.HighestBidder), a.Status,
		bidderID(a.Winner), bidderName(a.Winner), a.FinalPrice, a.SoldDate,
		version, created, now,
	}
}

func bidderFrom(id, name sql.NullString) *models.Bidder {
	if !id.Valid {
		return nil
	}
	return &models.Bidder{ID: id.String, DisplayName: name.String}
}

func bidderID(b *models.Bidder) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: b.ID, Valid: true}
}

func bidderName(b *models.Bidder) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: b.DisplayName, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ store.AuctionStore = (*AuctionStore)(nil)
