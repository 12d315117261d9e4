package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	bundleservice "github.com/meterline/meterline/internal/bundle/service"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	"github.com/meterline/meterline/internal/invoice/domain"
	"github.com/meterline/meterline/internal/providers/pdf"
	"github.com/meterline/meterline/internal/schema"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	tenantservice "github.com/meterline/meterline/internal/tenant/service"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
	usageservice "github.com/meterline/meterline/internal/usage/service"
)

type fixture struct {
	svc     domain.Service
	usage   usagedomain.Service
	bundles bundledomain.Service
	conn    *gorm.DB
	node    *snowflake.Node
	appID   snowflake.ID
	teamID  snowflake.ID
	pricing *config.PricingHolder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, conn.AutoMigrate(
		&tenantdomain.App{},
		&tenantdomain.Team{},
		&tenantdomain.User{},
		&tenantdomain.TeamMember{},
		&tenantdomain.BillingEntity{},
		&bundledomain.Bundle{},
		&bundledomain.BundleApp{},
		&bundledomain.BundleMeterPolicy{},
		&bundledomain.Contract{},
		&bundledomain.ContractBundle{},
		&usagedomain.UsageEvent{},
		&domain.Invoice{},
		&domain.InvoiceLineItem{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	tenants := tenantservice.New(tenantservice.Params{DB: conn, GenID: node, Log: log})
	bundles := bundleservice.New(bundleservice.Params{DB: conn, GenID: node, Log: log})
	usage := usageservice.New(usageservice.Params{
		DB: conn, GenID: node, Registry: schema.DefaultRegistry(), Tenants: tenants, Log: log,
	})
	resolver := entitlement.New(entitlement.Params{Tenants: tenants, Bundles: bundles, Log: log})

	pricing := &config.PricingHolder{}
	pricing.Store(config.DefaultPricingConfig())

	svc := New(Params{
		DB:       conn,
		GenID:    node,
		Tenants:  tenants,
		Usage:    usage,
		Resolver: resolver,
		Pricing:  pricing,
		Renderer: pdf.New(),
		Log:      log,
	})

	ctx := context.Background()
	app, err := tenants.CreateApp(ctx, tenantdomain.CreateAppRequest{Name: "Acme"})
	require.NoError(t, err)
	team, err := tenants.CreateTeam(ctx, tenantdomain.CreateTeamRequest{AppID: app.ID.String(), Name: "Platform"})
	require.NoError(t, err)

	return &fixture{
		svc:     svc,
		usage:   usage,
		bundles: bundles,
		conn:    conn,
		node:    node,
		appID:   app.ID,
		teamID:  team.ID,
		pricing: pricing,
	}
}

func (f *fixture) subscribe(t *testing.T, policy bundledomain.SetMeterPolicyRequest) {
	t.Helper()
	ctx := context.Background()

	bundle, err := f.bundles.CreateBundle(ctx, bundledomain.CreateBundleRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	policy.BundleID = bundle.ID
	policy.AppID = f.appID
	_, err = f.bundles.SetMeterPolicy(ctx, policy)
	require.NoError(t, err)

	_, err = f.bundles.CreateContract(ctx, bundledomain.CreateContractRequest{
		TeamID:      f.teamID,
		BundleIDs:   []snowflake.ID{bundle.ID},
		Cadence:     bundledomain.CadenceMonthly,
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func (f *fixture) ingest(t *testing.T, quantity float64, at time.Time) {
	t.Helper()
	_, err := f.usage.IngestBatch(context.Background(), usagedomain.IngestRequest{
		AppID:  f.appID,
		TeamID: f.teamID,
		Events: []usagedomain.IngestItem{{
			EventType:  "llm.tokens.v1",
			Payload:    map[string]any{"quantity": quantity},
			RecordedAt: at,
		}},
	})
	require.NoError(t, err)
}

func TestGenerateIssuesInvoiceWithOverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitHardCap,
		IncludedAmount: 1000,
		Enforcement:    bundledomain.EnforcementHard,
		OverageBilling: bundledomain.OveragePerUnit,
	})
	cfg := config.DefaultPricingConfig()
	cfg.Meters["llm.tokens"] = config.MeterPricing{UnitPriceMinor: 2}
	f.pricing.Store(cfg)

	f.ingest(t, 1500, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	inv, err := f.svc.Generate(ctx,
		f.teamID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Equal(t, domain.StatusIssued, inv.Status)
	require.EqualValues(t, 1000, inv.TotalMinor)
	require.Len(t, inv.Items, 2)
	require.Equal(t, domain.ChargeOverage, inv.Items[1].ChargeType)
	require.EqualValues(t, 500, inv.Items[1].Quantity)

	var sum int64
	require.NoError(t, f.conn.Model(&domain.InvoiceLineItem{}).
		Where("invoice_id = ?", inv.ID).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&sum).Error)
	require.Equal(t, inv.TotalMinor, sum)
}

func TestGenerateFlaggedInvoiceStaysDraft(t *testing.T) {
	f := newFixture(t)

	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitHardCap,
		IncludedAmount: 100,
		Enforcement:    bundledomain.EnforcementHard,
		OverageBilling: bundledomain.OverageNone,
	})

	f.ingest(t, 250, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	inv, err := f.svc.Generate(context.Background(),
		f.teamID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, inv.Status)
	require.EqualValues(t, 0, inv.TotalMinor)
	require.True(t, inv.Items[1].Flagged)
}

func TestGeneratePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.svc.Generate(ctx, f.node.Generate(), now.Add(-time.Hour), now)
	require.ErrorIs(t, err, tenantdomain.ErrTeamNotFound)

	_, err = f.svc.Generate(ctx, f.teamID, now, now.Add(-time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestMarkPaidStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitIncluded,
		IncludedAmount: 1000,
		Enforcement:    bundledomain.EnforcementSoft,
		OverageBilling: bundledomain.OverageNone,
	})
	f.ingest(t, 10, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	inv, err := f.svc.Generate(ctx,
		f.teamID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Status)

	_, err = f.svc.MarkPaid(ctx, inv.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInvoiceStatus)

	_, err = f.svc.MarkVoid(ctx, inv.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInvoiceStatus)

	_, err = f.svc.MarkPaid(ctx, f.node.Generate())
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestExportRendersPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitIncluded,
		IncludedAmount: 1000,
		Enforcement:    bundledomain.EnforcementSoft,
		OverageBilling: bundledomain.OverageNone,
	})
	f.ingest(t, 10, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	inv, err := f.svc.Generate(ctx,
		f.teamID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	reader, err := f.svc.Export(ctx, inv.ID)
	require.NoError(t, err)

	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, "%PDF", string(raw[:4]))

	_, err = f.svc.Export(ctx, f.node.Generate())
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}
