package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/schema"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	"github.com/meterline/meterline/internal/usage/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	GenID    *snowflake.Node
	Registry *schema.Registry
	Tenants  tenantdomain.Service
	Log      *zap.Logger
}

type usageService struct {
	db       *gorm.DB
	genID    *snowflake.Node
	registry *schema.Registry
	tenants  tenantdomain.Service
	log      *zap.Logger
}

func New(p Params) domain.Service {
	return &usageService{
		db:       p.DB,
		genID:    p.GenID,
		registry: p.Registry,
		tenants:  p.Tenants,
		log:      p.Log.Named("usage.service"),
	}
}

func (s *usageService) IngestBatch(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	if len(req.Events) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if len(req.Events) > domain.MaxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}
	if _, err := s.tenants.GetTeam(ctx, req.TeamID); err != nil {
		return nil, err
	}

	if verr := s.validateBatch(req.Events); verr != nil {
		return nil, verr
	}

	rows := make([]domain.UsageEvent, 0, len(req.Events))
	keys := make([]string, 0, len(req.Events))
	for _, item := range req.Events {
		row := s.buildRow(req, item)
		if row.IdempotencyKey != nil {
			keys = append(keys, *row.IdempotencyKey)
		}
		rows = append(rows, row)
	}

	result := domain.IngestResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := map[string]bool{}
		if len(keys) > 0 {
			var existing []string
			if err := tx.Model(&domain.UsageEvent{}).
				Where("idempotency_key IN ?", keys).
				Pluck("idempotency_key", &existing).Error; err != nil {
				return err
			}
			for _, k := range existing {
				seen[k] = true
			}
		}

		toInsert := make([]domain.UsageEvent, 0, len(rows))
		for _, row := range rows {
			if row.IdempotencyKey != nil && seen[*row.IdempotencyKey] {
				result.Duplicates++
				continue
			}
			if row.IdempotencyKey != nil {
				// Two identical keys inside one batch collapse to one row.
				seen[*row.IdempotencyKey] = true
			}
			toInsert = append(toInsert, row)
		}
		if len(toInsert) > 0 {
			if err := tx.Create(&toInsert).Error; err != nil {
				return err
			}
		}
		result.Accepted = len(toInsert)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ingested usage batch",
		zap.String("team_id", req.TeamID.String()),
		zap.Int("accepted", result.Accepted),
		zap.Int("duplicates", result.Duplicates),
	)
	return &result, nil
}

func (s *usageService) validateBatch(items []domain.IngestItem) error {
	var bad []domain.ItemIssue
	for i, item := range items {
		issues, err := s.registry.Validate(item.EventType, item.Payload)
		if err != nil {
			bad = append(bad, domain.ItemIssue{Index: i, Issues: []schema.Issue{{
				Field:   "event_type",
				Code:    "unknown_event_type",
				Message: "no schema registered for " + item.EventType,
			}}})
			continue
		}
		if werr := s.registry.AcceptsWrites(item.EventType); werr != nil {
			issues = append(issues, schema.Issue{
				Field:   "event_type",
				Code:    "deprecated_event_type",
				Message: item.EventType + " no longer accepts new events",
			})
		}
		if len(issues) > 0 {
			bad = append(bad, domain.ItemIssue{Index: i, Issues: issues})
		}
	}
	if len(bad) > 0 {
		return &domain.ValidationError{Items: bad}
	}
	return nil
}

func (s *usageService) buildRow(req domain.IngestRequest, item domain.IngestItem) domain.UsageEvent {
	row := domain.UsageEvent{
		ID:         s.genID.Generate(),
		AppID:      req.AppID,
		TeamID:     req.TeamID,
		MeterKey:   schema.MeterName(item.EventType),
		EventType:  item.EventType,
		Quantity:   asFloat(item.Payload["quantity"]),
		CostMinor:  asInt(item.Payload["costMinor"]),
		Provider:   asString(item.Payload["provider"]),
		Model:      asString(item.Payload["model"]),
		RecordedAt: item.RecordedAt.UTC(),
	}
	if row.RecordedAt.IsZero() {
		row.RecordedAt = time.Now().UTC()
	}
	if item.IdempotencyKey != "" {
		key := item.IdempotencyKey
		row.IdempotencyKey = &key
	}
	return row
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

var groupColumns = map[domain.GroupBy]string{
	domain.GroupByApp:      "app_id",
	domain.GroupByMeter:    "meter_key",
	domain.GroupByProvider: "provider",
	domain.GroupByModel:    "model",
}

func (s *usageService) Aggregate(ctx context.Context, teamID snowflake.ID, from, to time.Time, groupBy domain.GroupBy) ([]domain.Bucket, error) {
	column, ok := groupColumns[groupBy]
	if !ok {
		return nil, domain.ErrInvalidGroupBy
	}
	if err := s.requireBillingIdentity(ctx, teamID); err != nil {
		return nil, err
	}
	if from.After(to) {
		return []domain.Bucket{}, nil
	}

	var buckets []domain.Bucket
	err := s.db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Select("CAST(" + column + " AS TEXT) AS key, SUM(quantity) AS quantity").
		Where("team_id = ? AND recorded_at >= ? AND recorded_at < ?", teamID, from, to).
		Group(column).
		Order("key ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []domain.Bucket{}
	}
	return buckets, nil
}

func (s *usageService) Cogs(ctx context.Context, teamID snowflake.ID, from, to time.Time) ([]domain.CostBucket, error) {
	if err := s.requireBillingIdentity(ctx, teamID); err != nil {
		return nil, err
	}
	if from.After(to) {
		return []domain.CostBucket{}, nil
	}

	var buckets []domain.CostBucket
	err := s.db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Select("meter_key AS key, SUM(cost_minor) AS cost_minor").
		Where("team_id = ? AND recorded_at >= ? AND recorded_at < ?", teamID, from, to).
		Group("meter_key").
		Order("key ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []domain.CostBucket{}
	}
	return buckets, nil
}

func (s *usageService) QuantityByMeter(ctx context.Context, teamID snowflake.ID, from, to time.Time) (map[string]float64, error) {
	if from.After(to) {
		return map[string]float64{}, nil
	}

	var buckets []domain.Bucket
	err := s.db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Select("meter_key AS key, SUM(quantity) AS quantity").
		Where("team_id = ? AND recorded_at >= ? AND recorded_at < ?", teamID, from, to).
		Group("meter_key").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64, len(buckets))
	for _, b := range buckets {
		totals[b.Key] = b.Quantity
	}
	return totals, nil
}

// Reporting requires the team to exist and to carry a billing identity.
func (s *usageService) requireBillingIdentity(ctx context.Context, teamID snowflake.ID) error {
	if _, err := s.tenants.GetTeam(ctx, teamID); err != nil {
		return err
	}
	if _, err := s.tenants.BillingEntityForTeam(ctx, teamID); err != nil {
		return err
	}
	return nil
}
