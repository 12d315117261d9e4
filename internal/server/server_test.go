package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/meterline/meterline/internal/apikey/domain"
	apikeyservice "github.com/meterline/meterline/internal/apikey/service"
	auditdomain "github.com/meterline/meterline/internal/audit/domain"
	auditservice "github.com/meterline/meterline/internal/audit/service"
	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	bundleservice "github.com/meterline/meterline/internal/bundle/service"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	invoiceservice "github.com/meterline/meterline/internal/invoice/service"
	"github.com/meterline/meterline/internal/observability/metrics"
	paymentdomain "github.com/meterline/meterline/internal/payment/domain"
	paymentservice "github.com/meterline/meterline/internal/payment/service"
	"github.com/meterline/meterline/internal/providers/pdf"
	"github.com/meterline/meterline/internal/schema"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	tenantservice "github.com/meterline/meterline/internal/tenant/service"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
	usageservice "github.com/meterline/meterline/internal/usage/service"
)

const adminKey = "admin-secret"

type fixture struct {
	engine  *gin.Engine
	conn    *gorm.DB
	tenants tenantdomain.Service
	bundles bundledomain.Service
	apiKeys apikeydomain.Service
	appID   snowflake.ID
	teamID  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
		&apikeydomain.APIKey{},
		&auditdomain.AuditLog{},
		&paymentdomain.WebhookEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	cfg := config.Config{
		AdminAPIKey:          adminKey,
		PaymentWebhookSecret: "whsec_server_test",
	}

	registry := schema.DefaultRegistry()
	tenants := tenantservice.New(tenantservice.Params{DB: conn, GenID: node, Log: log})
	bundles := bundleservice.New(bundleservice.Params{DB: conn, GenID: node, Log: log})
	usage := usageservice.New(usageservice.Params{
		DB: conn, GenID: node, Registry: registry, Tenants: tenants, Log: log,
	})
	resolver := entitlement.New(entitlement.Params{Tenants: tenants, Bundles: bundles, Log: log})

	pricing := &config.PricingHolder{}
	pricing.Store(config.DefaultPricingConfig())
	invoices := invoiceservice.New(invoiceservice.Params{
		DB: conn, GenID: node, Tenants: tenants, Usage: usage,
		Resolver: resolver, Pricing: pricing, Renderer: pdf.New(), Log: log,
	})
	payments, err := paymentservice.New(paymentservice.Params{
		DB: conn, GenID: node, Cfg: cfg, Invoices: invoices, Log: log,
	})
	require.NoError(t, err)
	apiKeys := apikeyservice.New(apikeyservice.Params{DB: conn, GenID: node, Log: log})
	audit := auditservice.New(auditservice.Params{DB: conn, GenID: node, Log: log})

	engine := NewEngine(EngineParams{Log: log, Metrics: metrics.New()})
	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		GenID:        node,
		Registry:     registry,
		TenantSvc:    tenants,
		BundleSvc:    bundles,
		Entitlements: resolver,
		UsageSvc:     usage,
		InvoiceSvc:   invoices,
		PaymentSvc:   payments,
		APIKeySvc:    apiKeys,
		AuditSvc:     audit,
		Log:          log,
	})
	srv.RegisterRoutes()

	ctx := context.Background()
	app, err := tenants.CreateApp(ctx, tenantdomain.CreateAppRequest{Name: "Acme"})
	require.NoError(t, err)
	team, err := tenants.CreateTeam(ctx, tenantdomain.CreateTeamRequest{AppID: app.ID.String(), Name: "Platform"})
	require.NoError(t, err)

	return &fixture{
		engine:  engine,
		conn:    conn,
		tenants: tenants,
		bundles: bundles,
		apiKeys: apiKeys,
		appID:   app.ID,
		teamID:  team.ID,
	}
}

func (f *fixture) issueKey(t *testing.T, scopes ...string) string {
	t.Helper()
	secret, err := f.apiKeys.Create(context.Background(), apikeydomain.CreateRequest{
		AppID:  f.appID,
		Name:   "test key",
		Scopes: scopes,
	})
	require.NoError(t, err)
	return secret.APIKey
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
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

func TestEveryResponseEchoesRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/api/capabilities", nil)
	req.Header.Set("X-Request-Id", "req-12345")
	echo := httptest.NewRecorder()
	f.engine.ServeHTTP(echo, req)
	require.Equal(t, "req-12345", echo.Header().Get("X-Request-Id"))
}

func TestErrorBodiesCarryRequestID(t *testing.T) {
	f := newFixture(t)

	decode := func(rec *httptest.ResponseRecorder) errorPayload {
		var payload errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		return payload.Error
	}

	// Mapped handler error.
	req := httptest.NewRequest(http.MethodGet, "/api/schemas/unknown.v1", nil)
	req.Header.Set("X-Request-Id", "req-err-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(rec)
	require.Equal(t, "not_found", body.Type)
	require.Equal(t, "req-err-1", body.RequestID)

	// Auth abort before any handler runs.
	req = httptest.NewRequest(http.MethodPost, "/api/usage", bytes.NewBufferString("{}"))
	req.Header.Set("X-Request-Id", "req-err-2")
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "req-err-2", decode(rec).RequestID)

	// Generated ids land in the body too.
	rec = f.do(t, http.MethodGet, "/api/schemas/unknown.v1", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	generated := decode(rec).RequestID
	require.NotEmpty(t, generated)
	require.Equal(t, rec.Header().Get("X-Request-Id"), generated)
}

func TestCapabilities(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		MaxBatchSize        int      `json:"maxBatchSize"`
		SupportedEventTypes []string `json:"supportedEventTypes"`
		Meters              []string `json:"meters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, usagedomain.MaxBatchSize, payload.MaxBatchSize)
	require.Contains(t, payload.SupportedEventTypes, "llm.tokens.v1")
	require.Contains(t, payload.Meters, "llm.tokens")
}

func TestGetSchemaNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/schemas/unknown.event.v9", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/schemas/llm.tokens.v1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestAuth(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"team_id": f.teamID.String(),
		"events": []map[string]any{
			{"event_type": "llm.tokens.v1", "payload": map[string]any{"quantity": 5}},
		},
	}

	rec := f.do(t, http.MethodPost, "/api/usage", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "missing bearer credentials")

	rec = f.do(t, http.MethodPost, "/api/usage", "mk_bogus", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid bearer credentials")

	readOnly := f.issueKey(t, apikeydomain.ScopeBillingRead)
	rec = f.do(t, http.MethodPost, "/api/usage", readOnly, body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Insufficient scopes: usage:write required")
}

func TestIngestAcceptsBatch(t *testing.T) {
	f := newFixture(t)
	key := f.issueKey(t, apikeydomain.ScopeUsageWrite)

	body := map[string]any{
		"team_id": f.teamID.String(),
		"events": []map[string]any{
			{"event_type": "llm.tokens.v1", "payload": map[string]any{"quantity": 5}},
			{"event_type": "llm.tokens.v1", "payload": map[string]any{"quantity": 7}},
		},
	}
	rec := f.do(t, http.MethodPost, "/api/usage", key, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result usagedomain.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 2, result.Accepted)
	require.Equal(t, 0, result.Duplicates)
}

func TestIngestRejectsInvalidItemsWithIndexes(t *testing.T) {
	f := newFixture(t)
	key := f.issueKey(t, apikeydomain.ScopeUsageWrite)

	body := map[string]any{
		"team_id": f.teamID.String(),
		"events": []map[string]any{
			{"event_type": "llm.tokens.v1", "payload": map[string]any{"quantity": 5}},
			{"event_type": "nope.event.v1", "payload": map[string]any{"quantity": 5}},
		},
	}
	rec := f.do(t, http.MethodPost, "/api/usage", key, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var payload struct {
		Error struct {
			Type  string                  `json:"type"`
			Items []usagedomain.ItemIssue `json:"items"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "validation_error", payload.Error.Type)
	require.Len(t, payload.Error.Items, 1)
	require.Equal(t, 1, payload.Error.Items[0].Index)
}

func TestEntitlementsClaimMustMatchRoute(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitIncluded,
		IncludedAmount: 1000,
		Enforcement:    bundledomain.EnforcementSoft,
		OverageBilling: bundledomain.OverageNone,
	})
	key := f.issueKey(t)

	path := fmt.Sprintf("/apps/%s/teams/%s/entitlements", f.appID, f.teamID)
	rec := f.do(t, http.MethodGet, path, key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Entitlements []entitlement.Entitlement `json:"entitlements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Entitlements, 1)
	require.Equal(t, "llm.tokens", payload.Entitlements[0].MeterKey)

	otherApp := fmt.Sprintf("/apps/%s/teams/%s/entitlements", snowflake.ID(99999), f.teamID)
	rec = f.do(t, http.MethodGet, otherApp, key, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTeamUsageRequiresBillingReadScope(t *testing.T) {
	f := newFixture(t)
	writeOnly := f.issueKey(t, apikeydomain.ScopeUsageWrite)

	path := fmt.Sprintf("/teams/%s/usage?from=2026-03-01T00:00:00Z&to=2026-04-01T00:00:00Z", f.teamID)
	rec := f.do(t, http.MethodGet, path, writeOnly, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Insufficient scopes: billing:read required")

	reader := f.issueKey(t, apikeydomain.ScopeBillingRead)
	rec = f.do(t, http.MethodGet, path, reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthDistinguishesStates(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/bundles", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "missing bearer credentials")

	rec = f.do(t, http.MethodGet, "/admin/bundles", "wrong-key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid bearer credentials")

	rec = f.do(t, http.MethodGet, "/admin/bundles", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthNotConfigured(t *testing.T) {
	f := newFixture(t)

	bare := NewEngine(EngineParams{Log: zap.NewNop()})
	srv := NewServer(ServerParams{
		Gin:       bare,
		Cfg:       config.Config{},
		APIKeySvc: apikeyservice.New(apikeyservice.Params{DB: f.conn, GenID: mustNode(t), Log: zap.NewNop()}),
		Log:       zap.NewNop(),
	})
	srv.RegisterRoutes()

	req := httptest.NewRequest(http.MethodGet, "/admin/bundles", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	bare.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "not configured")
}

func TestCreateBundleConflict(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"code": "pro", "name": "Pro"}

	rec := f.do(t, http.MethodPost, "/admin/bundles", adminKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/bundles", adminKey, body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvoiceAdminFlow(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, bundledomain.SetMeterPolicyRequest{
		MeterKey:       "llm.tokens",
		LimitType:      bundledomain.LimitIncluded,
		IncludedAmount: 100,
		Enforcement:    bundledomain.EnforcementSoft,
		OverageBilling: bundledomain.OveragePerUnit,
	})

	key := f.issueKey(t, apikeydomain.ScopeUsageWrite)
	ingest := map[string]any{
		"team_id": f.teamID.String(),
		"events": []map[string]any{
			{
				"event_type":  "llm.tokens.v1",
				"payload":     map[string]any{"quantity": 60},
				"recorded_at": "2026-03-10T12:00:00Z",
			},
		},
	}
	rec := f.do(t, http.MethodPost, "/api/usage", key, ingest)
	require.Equal(t, http.StatusOK, rec.Code)

	generate := map[string]any{
		"team_id":      f.teamID.String(),
		"period_start": "2026-03-01T00:00:00Z",
		"period_end":   "2026-04-01T00:00:00Z",
	}
	rec = f.do(t, http.MethodPost, "/admin/invoices", adminKey, generate)
	require.Equal(t, http.StatusOK, rec.Code)

	var generated invoicedomain.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	require.Equal(t, invoicedomain.StatusIssued, generated.Status)

	rec = f.do(t, http.MethodGet, "/admin/invoices/"+generated.ID.String(), adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/invoices/"+generated.ID.String()+"/export", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = f.do(t, http.MethodPost, "/admin/invoices/"+generated.ID.String()+"/pay", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var paid invoicedomain.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	require.Equal(t, invoicedomain.StatusPaid, paid.Status)

	var auditCount int64
	require.NoError(t, f.conn.Model(&auditdomain.AuditLog{}).
		Where("action IN ?", []string{"invoice.generated", "invoice.exported", "invoice.paid"}).
		Count(&auditCount).Error)
	require.EqualValues(t, 3, auditCount)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1","type":"invoice.paid"}`))
	req.Header.Set("Meterline-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return node
}
