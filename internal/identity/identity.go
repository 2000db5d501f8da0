// Package identity resolves caller credentials to bidder identities.
// Credentials are issued by the shop's auth service; this package only reads them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aaronwang/coin-auction/internal/models"
)

// ErrInvalidCredential is returned for unknown, malformed or expired credentials
var ErrInvalidCredential = errors.New("invalid or expired credential")

// Provider resolves a credential to a stable bidder identity
type Provider interface {
	Resolve(ctx context.Context, credential string) (models.Bidder, error)
}

// StaticProvider resolves a fixed set of tokens. Used for local development and tests.
type StaticProvider struct {
	tokens map[string]models.Bidder
}

// NewStaticProvider creates a provider from token -> bidder pairs
func NewStaticProvider(tokens map[string]models.Bidder) *StaticProvider {
	copied := make(map[string]models.Bidder, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticProvider{tokens: copied}
}

// ParseStaticTokens parses "token=id:Display Name,token2=id2:Other"
func ParseStaticTokens(raw string) (map[string]models.Bidder, error) {
	tokens := make(map[string]models.Bidder)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, identity, ok := strings.Cut(entry, "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("malformed token entry %q", entry)
		}
		id, name, ok := strings.Cut(identity, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed identity in entry %q", entry)
		}
		if name == "" {
			name = id
		}
		tokens[token] = models.Bidder{ID: id, DisplayName: name}
	}
	return tokens, nil
}

// Resolve looks the credential up in the configured token table
func (p *StaticProvider) Resolve(_ context.Context, credential string) (models.Bidder, error) {
	b, ok := p.tokens[credential]
	if !ok || credential == "" {
		return models.Bidder{}, ErrInvalidCredential
	}
	return b, nil
}
