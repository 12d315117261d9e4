package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/tenant/domain"
	"github.com/meterline/meterline/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Log   *zap.Logger
}

type tenantService struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
}

func New(p Params) domain.Service {
	return &tenantService{
		db:    p.DB,
		genID: p.GenID,
		log:   p.Log.Named("tenant.service"),
	}
}

func (s *tenantService) CreateApp(ctx context.Context, req domain.CreateAppRequest) (*domain.App, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.ErrInvalidName
	}

	app := domain.App{
		ID:   s.genID.Generate(),
		Code: slug.Make(req.Name),
		Name: req.Name,
	}
	if err := s.db.WithContext(ctx).Create(&app).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			var existing domain.App
			if ferr := s.db.WithContext(ctx).Where("code = ?", app.Code).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &app, nil
}

func (s *tenantService) CreateTeam(ctx context.Context, req domain.CreateTeamRequest) (*domain.Team, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.ErrInvalidName
	}
	switch req.Kind {
	case domain.TeamKindStandard, domain.TeamKindEnterprise:
	case "":
		req.Kind = domain.TeamKindStandard
	default:
		return nil, domain.ErrInvalidTeamKind
	}

	appID, err := snowflake.ParseString(req.AppID)
	if err != nil {
		return nil, domain.ErrAppNotFound
	}
	var app domain.App
	if err := s.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrAppNotFound
		}
		return nil, err
	}

	team := domain.Team{
		ID:    s.genID.Generate(),
		AppID: app.ID,
		Code:  slug.Make(req.Name),
		Name:  req.Name,
		Kind:  req.Kind,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		entity := domain.BillingEntity{
			ID:        s.genID.Generate(),
			OwnerType: domain.BillingEntityOwnerTeam,
			TeamID:    team.ID,
		}
		return tx.Create(&entity).Error
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// ProvisionUser is idempotent on (app, externalRef): repeating the call
// returns the same user and personal team without creating anything new.
func (s *tenantService) ProvisionUser(ctx context.Context, req domain.ProvisionUserRequest) (*domain.ProvisionUserResponse, error) {
	if strings.TrimSpace(req.ExternalRef) == "" {
		return nil, domain.ErrInvalidExternalRef
	}

	appID, err := snowflake.ParseString(req.AppID)
	if err != nil {
		return nil, domain.ErrAppNotFound
	}
	var app domain.App
	if err := s.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrAppNotFound
		}
		return nil, err
	}

	if resp, err := s.lookupProvisioned(ctx, app.ID, req.ExternalRef); err != nil {
		return nil, err
	} else if resp != nil {
		return resp, nil
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.ExternalRef
	}

	user := domain.User{
		ID:          s.genID.Generate(),
		AppID:       app.ID,
		ExternalRef: req.ExternalRef,
		DisplayName: displayName,
	}
	ownerID := user.ID
	team := domain.Team{
		ID:          s.genID.Generate(),
		AppID:       app.ID,
		Code:        fmt.Sprintf("%s-%s", slug.Make(displayName), user.ID.String()),
		Name:        displayName,
		Kind:        domain.TeamKindPersonal,
		OwnerUserID: &ownerID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		member := domain.TeamMember{
			ID:     s.genID.Generate(),
			TeamID: team.ID,
			UserID: user.ID,
			Role:   domain.MemberRoleOwner,
			Status: domain.MemberStatusActive,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		entity := domain.BillingEntity{
			ID:        s.genID.Generate(),
			OwnerType: domain.BillingEntityOwnerTeam,
			TeamID:    team.ID,
		}
		return tx.Create(&entity).Error
	})
	if err != nil {
		// A concurrent provision for the same external ref won the insert.
		// Re-read and return the winner's rows.
		if db.IsDuplicateKeyErr(err) {
			if resp, lerr := s.lookupProvisioned(ctx, app.ID, req.ExternalRef); lerr == nil && resp != nil {
				return resp, nil
			}
		}
		return nil, err
	}

	s.log.Info("provisioned user",
		zap.String("app_id", app.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("personal_team_id", team.ID.String()),
	)

	return &domain.ProvisionUserResponse{
		User:         user,
		PersonalTeam: team,
		Created:      true,
	}, nil
}

func (s *tenantService) lookupProvisioned(ctx context.Context, appID snowflake.ID, externalRef string) (*domain.ProvisionUserResponse, error) {
	var user domain.User
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND external_ref = ?", appID, externalRef).
		First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	var team domain.Team
	err = s.db.WithContext(ctx).
		Where("app_id = ? AND owner_user_id = ? AND kind = ?", appID, user.ID, domain.TeamKindPersonal).
		First(&team).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTeamNotFound
		}
		return nil, err
	}

	return &domain.ProvisionUserResponse{
		User:         user,
		PersonalTeam: team,
		Created:      false,
	}, nil
}

func (s *tenantService) GetTeam(ctx context.Context, teamID snowflake.ID) (*domain.Team, error) {
	var team domain.Team
	if err := s.db.WithContext(ctx).Where("id = ?", teamID).First(&team).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (s *tenantService) BillingEntityForTeam(ctx context.Context, teamID snowflake.ID) (*domain.BillingEntity, error) {
	var entity domain.BillingEntity
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&entity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrBillingEntityNotFound
		}
		return nil, err
	}
	return &entity, nil
}
