package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	ScopeUsageWrite  = "usage:write"
	ScopeBillingRead = "billing:read"
)

type CreateRequest struct {
	AppID  snowflake.ID `json:"app_id"`
	Name   string       `json:"name"`
	Scopes []string     `json:"scopes"`
}

// SecretResponse carries the raw key exactly once, at creation time.
// Only the hash is stored.
type SecretResponse struct {
	KeyID  snowflake.ID `json:"key_id"`
	APIKey string       `json:"api_key"`
}

// Identity is the authenticated principal behind a valid key.
type Identity struct {
	KeyID  snowflake.ID
	AppID  snowflake.ID
	Scopes []string
}

func (i Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Authenticate(ctx context.Context, rawKey string) (*Identity, error)
	Revoke(ctx context.Context, keyID snowflake.ID) error
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidScope = errors.New("invalid_scope")
	ErrKeyNotFound  = errors.New("api_key_not_found")
	ErrInvalidKey   = errors.New("invalid_api_key")
)
