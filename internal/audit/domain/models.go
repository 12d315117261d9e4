// Package domain contains the append-only audit log model. Rows are
// written once and never updated or deleted.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	EntityType string            `json:"entity_type" gorm:"type:text;not null"`
	EntityID   string            `json:"entity_id" gorm:"type:text;not null;index"`
	Actor      string            `json:"actor" gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, action, entityType, entityID, actor string, metadata map[string]any) error
}

var ErrInvalidAction = errors.New("invalid_action")
