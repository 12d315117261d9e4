package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/audit/domain"
	"github.com/meterline/meterline/pkg/repository"
	"github.com/meterline/meterline/pkg/telemetry/correlation"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Log   *zap.Logger
}

type auditService struct {
	store repository.Repository[domain.AuditLog]
	genID *snowflake.Node
	log   *zap.Logger
}

func New(p Params) domain.Service {
	return &auditService{
		store: repository.ProvideStore[domain.AuditLog](p.DB),
		genID: p.GenID,
		log:   p.Log.Named("audit.service"),
	}
}

func (s *auditService) AuditLog(ctx context.Context, action, entityType, entityID, actor string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	if entityType == "" {
		entityType = "unknown"
	}
	if actor == "" {
		actor = "system"
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if correlationID := correlation.ExtractCorrelationID(ctx); correlationID != "" {
		payload["correlation_id"] = correlationID
	}

	entry := domain.AuditLog{
		ID:         s.genID.Generate(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Create(ctx, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}
