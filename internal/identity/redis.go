package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisProvider looks up sessions written by the auth service under
// "session:{token}". The key's TTL is the session expiry, so an expired
// session is simply a missing key.
type RedisProvider struct {
	client *redis.Client
}

type session struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// NewRedisProvider creates a session backed provider
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// SessionKey returns the Redis key of a session token
func SessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

// Resolve reads the session stored under the token. Missing or unreadable
// sessions are reported as ErrInvalidCredential.
func (p *RedisProvider) Resolve(ctx context.Context, credential string) (models.Bidder, error) {
	if credential == "" {
		return models.Bidder{}, ErrInvalidCredential
	}

	val, err := p.client.Get(ctx, SessionKey(credential)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Bidder{}, ErrInvalidCredential
		}
		return models.Bidder{}, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var s session
	if err := json.Unmarshal(val, &s); err != nil || s.UserID == "" {
		return models.Bidder{}, ErrInvalidCredential
	}
	if s.DisplayName == "" {
		s.DisplayName = s.UserID
	}
	return models.Bidder{ID: s.UserID, DisplayName: s.DisplayName}, nil
}
