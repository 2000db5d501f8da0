package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/store"
	"github.com/redis/go-redis/v9"
)

const activeAuctionsKey = "auctions:active"

// Lua scripts run atomically on the Redis server, so the price, leader and
// bid log of one auction always change together or not at all.
var (
	createScript = redis.NewScript(`
		-- KEYS[1]: auction:{id}
		-- KEYS[2]: auctions:active
		-- ARGV[1]: auction JSON
		-- ARGV[2]: auction id
		-- ARGV[3]: status

		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end

		redis.call('HSET', KEYS[1], 'version', '1', 'data', ARGV[1])
		if ARGV[3] == 'active' then
			redis.call('SADD', KEYS[2], ARGV[2])
		end
		return 1
	`)

	saveScript = redis.NewScript(`
		-- KEYS[1]: auction:{id}
		-- KEYS[2]: auctions:active
		-- ARGV[1]: expected version
		-- ARGV[2]: auction JSON carrying the next version
		-- ARGV[3]: auction id
		-- ARGV[4]: status

		local current = redis.call('HGET', KEYS[1], 'version')
		if not current then
			return -1
		end

		-- Compare: someone else committed since we read
		if tonumber(current) ~= tonumber(ARGV[1]) then
			return 0
		end

		redis.call('HSET', KEYS[1], 'version', tostring(tonumber(current) + 1), 'data', ARGV[2])
		if ARGV[4] == 'active' then
			redis.call('SADD', KEYS[2], ARGV[3])
		else
			redis.call('SREM', KEYS[2], ARGV[3])
		end
		return 1
	`)
)

// AuctionStore keeps auction records in Redis hashes with a version field
type AuctionStore struct {
	client *redis.Client
}

// NewAuctionStore wraps an existing client
func NewAuctionStore(client *redis.Client) *AuctionStore {
	return &AuctionStore{client: client}
}

func auctionKey(id string) string {
	return fmt.Sprintf("auction:%s", id)
}

// Create stores a new auction at version 1
func (s *AuctionStore) Create(ctx context.Context, a *models.Auction) error {
	c := a.Clone()
	c.Version = 1
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal auction: %w", err)
	}

	keys := []string{auctionKey(a.ID), activeAuctionsKey}
	created, err := createScript.Run(ctx, s.client, keys, data, a.ID, a.Status).Int64()
	if err != nil {
		return fmt.Errorf("failed to execute create script: %w", err)
	}
	if created == 0 {
		return store.ErrAlreadyExists
	}

	a.Version = 1
	return nil
}

// Get loads one auction
func (s *AuctionStore) Get(ctx context.Context, id string) (*models.Auction, error) {
	data, err := s.client.HGet(ctx, auctionKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction %s: %w", id, err)
	}
	return decodeAuction(data)
}

// ListActive returns every auction whose stored status is active, soonest ending first
func (s *AuctionStore) ListActive(ctx context.Context) ([]*models.Auction, error) {
	ids, err := s.client.SMembers(ctx, activeAuctionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Auction{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, auctionKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load active auctions: %w", err)
	}

	auctions := make([]*models.Auction, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// Member without a record; skip it rather than fail the listing
			continue
		}
		a, err := decodeAuction(data)
		if err != nil {
			return nil, err
		}
		if a.IsActive() {
			auctions = append(auctions, a)
		}
	}

	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].EndTime.Before(auctions[j].EndTime)
	})
	return auctions, nil
}

// Save writes a if nobody else saved since a was read
func (s *AuctionStore) Save(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	next := a.Clone()
	next.Version = a.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auction: %w", err)
	}

	keys := []string{auctionKey(a.ID), activeAuctionsKey}
	result, err := saveScript.Run(ctx, s.client, keys, a.Version, data, a.ID, a.Status).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to execute save script: %w", err)
	}

	switch result {
	case 1:
		return next, nil
	case 0:
		return nil, store.ErrConflict
	default:
		return nil, store.ErrNotFound
	}
}

func decodeAuction(data []byte) (*models.Auction, error) {
	var a models.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auction: %w", err)
	}
	if a.Bids == nil {
		a.Bids = []models.Bid{}
	}
	return &a, nil
}
