package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/apikey/domain"
)

var knownScopes = map[string]bool{
	domain.ScopeUsageWrite:  true,
	domain.ScopeBillingRead: true,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Log   *zap.Logger
}

type apiKeyService struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
}

func New(p Params) domain.Service {
	return &apiKeyService{
		db:    p.DB,
		genID: p.GenID,
		log:   p.Log.Named("apikey.service"),
	}
}

func (s *apiKeyService) Create(ctx context.Context, req domain.CreateRequest) (*domain.SecretResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.ErrInvalidName
	}
	for _, scope := range req.Scopes {
		if !knownScopes[scope] {
			return nil, domain.ErrInvalidScope
		}
	}

	raw, err := generateKey()
	if err != nil {
		return nil, err
	}

	record := domain.APIKey{
		ID:       s.genID.Generate(),
		AppID:    req.AppID,
		Name:     strings.TrimSpace(req.Name),
		Scopes:   append([]string(nil), req.Scopes...),
		KeyHash:  domain.HashAPIKey(raw),
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	s.log.Info("api key created",
		zap.String("key_id", record.ID.String()),
		zap.String("app_id", record.AppID.String()),
	)
	return &domain.SecretResponse{KeyID: record.ID, APIKey: raw}, nil
}

func (s *apiKeyService) Authenticate(ctx context.Context, rawKey string) (*domain.Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, domain.ErrInvalidKey
	}

	hash := domain.HashAPIKey(rawKey)
	now := time.Now().UTC()

	var record domain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvalidKey
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
		return nil, domain.ErrInvalidKey
	}

	s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ?", record.ID).
		Update("last_used_at", now)

	return &domain.Identity{
		KeyID:  record.ID,
		AppID:  record.AppID,
		Scopes: append([]string(nil), record.Scopes...),
	}, nil
}

func (s *apiKeyService) Revoke(ctx context.Context, keyID snowflake.ID) error {
	result := s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ? AND is_active = ?", keyID, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mk_" + hex.EncodeToString(buf), nil
}
