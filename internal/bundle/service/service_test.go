package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/bundle/domain"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, conn.AutoMigrate(
		&tenantdomain.Team{},
		&tenantdomain.BillingEntity{},
		&domain.Bundle{},
		&domain.BundleApp{},
		&domain.BundleMeterPolicy{},
		&domain.Contract{},
		&domain.ContractBundle{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{DB: conn, GenID: node, Log: zap.NewNop()})
	return svc, conn, node
}

func seedTeam(t *testing.T, conn *gorm.DB, node *snowflake.Node) (teamID, appID snowflake.ID) {
	t.Helper()

	teamID = node.Generate()
	appID = node.Generate()
	require.NoError(t, conn.Create(&tenantdomain.Team{
		ID:    teamID,
		AppID: appID,
		Code:  "team",
		Name:  "Team",
		Kind:  tenantdomain.TeamKindStandard,
	}).Error)
	require.NoError(t, conn.Create(&tenantdomain.BillingEntity{
		ID:        node.Generate(),
		OwnerType: tenantdomain.BillingEntityOwnerTeam,
		TeamID:    teamID,
	}).Error)
	return teamID, appID
}

func TestCreateBundleRejectsDuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBundle(ctx, domain.CreateBundleRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	_, err = svc.CreateBundle(ctx, domain.CreateBundleRequest{Code: "pro", Name: "Pro Again"})
	require.ErrorIs(t, err, domain.ErrBundleCodeExists)
}

func TestSetMeterPolicyUpserts(t *testing.T) {
	svc, conn, node := newTestService(t)
	ctx := context.Background()

	bundle, err := svc.CreateBundle(ctx, domain.CreateBundleRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	appID := node.Generate()
	first, err := svc.SetMeterPolicy(ctx, domain.SetMeterPolicyRequest{
		BundleID:       bundle.ID,
		AppID:          appID,
		MeterKey:       "llm.tokens",
		LimitType:      domain.LimitIncluded,
		IncludedAmount: 1000,
		Enforcement:    domain.EnforcementSoft,
		OverageBilling: domain.OveragePerUnit,
	})
	require.NoError(t, err)

	second, err := svc.SetMeterPolicy(ctx, domain.SetMeterPolicyRequest{
		BundleID:       bundle.ID,
		AppID:          appID,
		MeterKey:       "llm.tokens",
		LimitType:      domain.LimitHardCap,
		IncludedAmount: 2000,
		Enforcement:    domain.EnforcementHard,
		OverageBilling: domain.OverageNone,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, domain.LimitHardCap, second.LimitType)
	require.EqualValues(t, 2000, second.IncludedAmount)

	var count int64
	require.NoError(t, conn.Model(&domain.BundleMeterPolicy{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSetMeterPolicyValidatesEnums(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	bundle, err := svc.CreateBundle(ctx, domain.CreateBundleRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	_, err = svc.SetMeterPolicy(ctx, domain.SetMeterPolicyRequest{
		BundleID:       bundle.ID,
		AppID:          node.Generate(),
		MeterKey:       "llm.tokens",
		LimitType:      "BOGUS",
		Enforcement:    domain.EnforcementNone,
		OverageBilling: domain.OverageNone,
	})
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestPoliciesForSeesOnlyActiveContracts(t *testing.T) {
	svc, conn, node := newTestService(t)
	ctx := context.Background()

	teamID, appID := seedTeam(t, conn, node)

	bundle, err := svc.CreateBundle(ctx, domain.CreateBundleRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	_, err = svc.SetMeterPolicy(ctx, domain.SetMeterPolicyRequest{
		BundleID:       bundle.ID,
		AppID:          appID,
		MeterKey:       "llm.tokens",
		LimitType:      domain.LimitIncluded,
		IncludedAmount: 1000,
		Enforcement:    domain.EnforcementSoft,
		OverageBilling: domain.OveragePerUnit,
	})
	require.NoError(t, err)

	contract, err := svc.CreateContract(ctx, domain.CreateContractRequest{
		TeamID:      teamID,
		BundleIDs:   []snowflake.ID{bundle.ID},
		Cadence:     domain.CadenceMonthly,
		PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), contract.CurrentPeriodEnd)

	grants, err := svc.PoliciesFor(ctx, appID, teamID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "pro", grants[0].BundleCode)
	require.Equal(t, "llm.tokens", grants[0].MeterKey)

	require.NoError(t, conn.Model(&domain.Contract{}).
		Where("id = ?", contract.ID).
		Update("status", domain.ContractStatusEnded).Error)

	grants, err = svc.PoliciesFor(ctx, appID, teamID)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestCreateContractValidates(t *testing.T) {
	svc, conn, node := newTestService(t)
	ctx := context.Background()

	teamID, _ := seedTeam(t, conn, node)

	_, err := svc.CreateContract(ctx, domain.CreateContractRequest{
		TeamID:  teamID,
		Cadence: "hourly",
	})
	require.ErrorIs(t, err, domain.ErrInvalidCadence)

	_, err = svc.CreateContract(ctx, domain.CreateContractRequest{
		TeamID:      node.Generate(),
		Cadence:     domain.CadenceDaily,
		PeriodStart: time.Now(),
	})
	require.ErrorIs(t, err, tenantdomain.ErrBillingEntityNotFound)

	_, err = svc.CreateContract(ctx, domain.CreateContractRequest{
		TeamID:      teamID,
		BundleIDs:   []snowflake.ID{node.Generate()},
		Cadence:     domain.CadenceDaily,
		PeriodStart: time.Now(),
	})
	require.ErrorIs(t, err, domain.ErrBundleNotFound)
}
