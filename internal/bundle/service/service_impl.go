package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/bundle/domain"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	"github.com/meterline/meterline/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Log   *zap.Logger
}

type bundleService struct {
	db    *gorm.DB
	genID *snowflake.Node
	log   *zap.Logger
}

func New(p Params) domain.Service {
	return &bundleService{
		db:    p.DB,
		genID: p.GenID,
		log:   p.Log.Named("bundle.service"),
	}
}

func (s *bundleService) CreateBundle(ctx context.Context, req domain.CreateBundleRequest) (*domain.Bundle, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	bundle := domain.Bundle{
		ID:      s.genID.Generate(),
		Code:    code,
		Name:    req.Name,
		Version: 1,
		Status:  domain.BundleStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&bundle).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrBundleCodeExists
		}
		return nil, err
	}
	return &bundle, nil
}

func (s *bundleService) GetBundle(ctx context.Context, id snowflake.ID) (*domain.Bundle, error) {
	var bundle domain.Bundle
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&bundle).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrBundleNotFound
		}
		return nil, err
	}
	return &bundle, nil
}

func (s *bundleService) ListBundles(ctx context.Context) ([]domain.Bundle, error) {
	var bundles []domain.Bundle
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&bundles).Error; err != nil {
		return nil, err
	}
	return bundles, nil
}

func (s *bundleService) AttachApp(ctx context.Context, req domain.AttachAppRequest) (*domain.BundleApp, error) {
	if _, err := s.GetBundle(ctx, req.BundleID); err != nil {
		return nil, err
	}

	attach := domain.BundleApp{
		ID:           s.genID.Generate(),
		BundleID:     req.BundleID,
		AppID:        req.AppID,
		FeatureFlags: req.FeatureFlags,
	}
	if err := s.db.WithContext(ctx).Create(&attach).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			var existing domain.BundleApp
			if ferr := s.db.WithContext(ctx).
				Where("bundle_id = ? AND app_id = ?", req.BundleID, req.AppID).
				First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &attach, nil
}

func (s *bundleService) SetMeterPolicy(ctx context.Context, req domain.SetMeterPolicyRequest) (*domain.BundleMeterPolicy, error) {
	if err := validatePolicy(req); err != nil {
		return nil, err
	}
	if _, err := s.GetBundle(ctx, req.BundleID); err != nil {
		return nil, err
	}

	var policy domain.BundleMeterPolicy
	err := s.db.WithContext(ctx).
		Where("bundle_id = ? AND app_id = ? AND meter_key = ?", req.BundleID, req.AppID, req.MeterKey).
		First(&policy).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		policy = domain.BundleMeterPolicy{
			ID:             s.genID.Generate(),
			BundleID:       req.BundleID,
			AppID:          req.AppID,
			MeterKey:       req.MeterKey,
			LimitType:      req.LimitType,
			IncludedAmount: req.IncludedAmount,
			Enforcement:    req.Enforcement,
			OverageBilling: req.OverageBilling,
			Notes:          req.Notes,
		}
		if cerr := s.db.WithContext(ctx).Create(&policy).Error; cerr != nil {
			return nil, cerr
		}
		return &policy, nil
	case err != nil:
		return nil, err
	}

	updates := map[string]any{
		"limit_type":      req.LimitType,
		"included_amount": req.IncludedAmount,
		"enforcement":     req.Enforcement,
		"overage_billing": req.OverageBilling,
		"notes":           req.Notes,
	}
	if uerr := s.db.WithContext(ctx).
		Model(&domain.BundleMeterPolicy{}).
		Where("id = ?", policy.ID).
		Updates(updates).Error; uerr != nil {
		return nil, uerr
	}
	return s.findPolicy(ctx, policy.ID)
}

func (s *bundleService) findPolicy(ctx context.Context, id snowflake.ID) (*domain.BundleMeterPolicy, error) {
	var policy domain.BundleMeterPolicy
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&policy).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

func validatePolicy(req domain.SetMeterPolicyRequest) error {
	if strings.TrimSpace(req.MeterKey) == "" {
		return domain.ErrInvalidPolicy
	}
	switch req.LimitType {
	case domain.LimitNone, domain.LimitIncluded, domain.LimitUnlimited, domain.LimitHardCap:
	default:
		return domain.ErrInvalidPolicy
	}
	switch req.Enforcement {
	case domain.EnforcementNone, domain.EnforcementSoft, domain.EnforcementHard:
	default:
		return domain.ErrInvalidPolicy
	}
	switch req.OverageBilling {
	case domain.OverageNone, domain.OveragePerUnit, domain.OverageTiered, domain.OverageCustom:
	default:
		return domain.ErrInvalidPolicy
	}
	if req.IncludedAmount < 0 {
		return domain.ErrInvalidPolicy
	}
	return nil
}

func (s *bundleService) CreateContract(ctx context.Context, req domain.CreateContractRequest) (*domain.Contract, error) {
	switch req.Cadence {
	case domain.CadenceDaily, domain.CadenceWeekly, domain.CadenceMonthly:
	default:
		return nil, domain.ErrInvalidCadence
	}

	var entity tenantdomain.BillingEntity
	err := s.db.WithContext(ctx).Where("team_id = ?", req.TeamID).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, tenantdomain.ErrBillingEntityNotFound
		}
		return nil, err
	}

	start := req.PeriodStart.UTC()
	contract := domain.Contract{
		ID:                 s.genID.Generate(),
		BillingEntityID:    entity.ID,
		Cadence:            req.Cadence,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   domain.NextPeriodEnd(req.Cadence, start),
		Status:             domain.ContractStatusActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, bundleID := range req.BundleIDs {
			var bundle domain.Bundle
			if err := tx.Where("id = ?", bundleID).First(&bundle).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return domain.ErrBundleNotFound
				}
				return err
			}
		}
		if err := tx.Create(&contract).Error; err != nil {
			return err
		}
		for _, bundleID := range req.BundleIDs {
			edge := domain.ContractBundle{
				ID:         s.genID.Generate(),
				ContractID: contract.ID,
				BundleID:   bundleID,
			}
			if err := tx.Create(&edge).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func (s *bundleService) GetContract(ctx context.Context, id snowflake.ID) (*domain.Contract, error) {
	var contract domain.Contract
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrContractNotFound
		}
		return nil, err
	}
	return &contract, nil
}

const grantColumns = "bundles.code AS bundle_code, bundle_meter_policies.meter_key, " +
	"bundle_meter_policies.limit_type, bundle_meter_policies.included_amount, " +
	"bundle_meter_policies.enforcement, bundle_meter_policies.overage_billing"

func (s *bundleService) PoliciesFor(ctx context.Context, appID, teamID snowflake.ID) ([]domain.PolicyGrant, error) {
	var grants []domain.PolicyGrant
	err := s.db.WithContext(ctx).
		Table("bundle_meter_policies").
		Select(grantColumns).
		Joins("JOIN bundles ON bundles.id = bundle_meter_policies.bundle_id").
		Joins("JOIN contract_bundles ON contract_bundles.bundle_id = bundle_meter_policies.bundle_id").
		Joins("JOIN contracts ON contracts.id = contract_bundles.contract_id").
		Joins("JOIN billing_entities ON billing_entities.id = contracts.billing_entity_id").
		Where("billing_entities.team_id = ?", teamID).
		Where("contracts.status = ?", domain.ContractStatusActive).
		Where("bundle_meter_policies.app_id = ?", appID).
		Order("bundles.code ASC, bundle_meter_policies.meter_key ASC").
		Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *bundleService) PoliciesForContract(ctx context.Context, contractID snowflake.ID) ([]domain.PolicyGrant, error) {
	var grants []domain.PolicyGrant
	err := s.db.WithContext(ctx).
		Table("bundle_meter_policies").
		Select(grantColumns).
		Joins("JOIN bundles ON bundles.id = bundle_meter_policies.bundle_id").
		Joins("JOIN contract_bundles ON contract_bundles.bundle_id = bundle_meter_policies.bundle_id").
		Where("contract_bundles.contract_id = ?", contractID).
		Order("bundles.code ASC, bundle_meter_policies.meter_key ASC").
		Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}
