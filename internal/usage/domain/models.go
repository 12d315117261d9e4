// Package domain contains the usage event model and service contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MaxBatchSize caps ingestion batches. Shared with the capabilities
// endpoint so clients can self-limit.
const MaxBatchSize = 500

// UsageEvent is an immutable usage fact. Once accepted it is never
// mutated.
type UsageEvent struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	AppID          snowflake.ID `json:"app_id" gorm:"not null;index:ix_usage_events_app"`
	TeamID         snowflake.ID `json:"team_id" gorm:"not null;index:ix_usage_events_team_recorded,priority:1"`
	MeterKey       string       `json:"meter_key" gorm:"type:text;not null;index"`
	EventType      string       `json:"event_type" gorm:"type:text;not null"`
	Quantity       float64      `json:"quantity" gorm:"not null"`
	CostMinor      int64        `json:"cost_minor" gorm:"not null;default:0"`
	Provider       string       `json:"provider" gorm:"type:text"`
	Model          string       `json:"model" gorm:"type:text"`
	RecordedAt     time.Time    `json:"recorded_at" gorm:"not null;index:ix_usage_events_team_recorded,priority:2"`
	IdempotencyKey *string      `json:"idempotency_key" gorm:"type:text;uniqueIndex:ux_usage_events_idempotency"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageEvent) TableName() string { return "usage_events" }
