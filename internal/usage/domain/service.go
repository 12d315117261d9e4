package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/meterline/meterline/internal/schema"
)

// GroupBy selects the aggregation dimension.
type GroupBy string

const (
	GroupByApp      GroupBy = "app"
	GroupByMeter    GroupBy = "meter"
	GroupByProvider GroupBy = "provider"
	GroupByModel    GroupBy = "model"
)

// IngestItem is one event in an ingestion batch. Payload must conform
// to the registered schema for EventType.
type IngestItem struct {
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	RecordedAt     time.Time      `json:"recorded_at"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type IngestRequest struct {
	AppID  snowflake.ID `json:"app_id"`
	TeamID snowflake.ID `json:"team_id"`
	Events []IngestItem `json:"events"`
}

type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Bucket is one aggregation row: the distinct dimension value and the
// summed quantity.
type Bucket struct {
	Key      string  `json:"key"`
	Quantity float64 `json:"quantity"`
}

// CostBucket sums cost of goods in minor units per meter.
type CostBucket struct {
	Key       string `json:"key"`
	CostMinor int64  `json:"cost_minor"`
}

type Service interface {
	// IngestBatch validates and stores a batch atomically. Events whose
	// idempotency key was already accepted are counted as duplicates and
	// produce no new row.
	IngestBatch(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// Aggregate sums quantity over [from, to) grouped by one dimension.
	// from > to yields an empty result.
	Aggregate(ctx context.Context, teamID snowflake.ID, from, to time.Time, groupBy GroupBy) ([]Bucket, error)

	// Cogs sums cost of goods over [from, to) per meter.
	Cogs(ctx context.Context, teamID snowflake.ID, from, to time.Time) ([]CostBucket, error)

	// QuantityByMeter is the period-close view: summed quantity per meter
	// for a team window, with no billing-identity precondition.
	QuantityByMeter(ctx context.Context, teamID snowflake.ID, from, to time.Time) (map[string]float64, error)
}

var (
	ErrBatchTooLarge  = errors.New("batch_too_large")
	ErrEmptyBatch     = errors.New("empty_batch")
	ErrInvalidGroupBy = errors.New("invalid_group_by")
)

// ItemIssue ties schema validation issues back to the offending batch
// index.
type ItemIssue struct {
	Index  int            `json:"index"`
	Issues []schema.Issue `json:"issues"`
}

// ValidationError reports every invalid item in a rejected batch.
type ValidationError struct {
	Items []ItemIssue `json:"items"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("usage batch validation failed for %d item(s)", len(e.Items))
}
