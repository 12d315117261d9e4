package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// APIKey stores hashed API credentials scoped to an app.
type APIKey struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	AppID      snowflake.ID   `gorm:"column:app_id;not null;index:ix_api_keys_app"`
	Name       string         `gorm:"type:text;not null"`
	Scopes     pq.StringArray `gorm:"type:text[];not null"`
	KeyHash    string         `gorm:"column:key_hash;type:text;not null;uniqueIndex:ux_api_keys_key_hash"`
	IsActive   bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time     `gorm:"column:expires_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// HashAPIKey hashes the raw API key using the same strategy as key
// creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
