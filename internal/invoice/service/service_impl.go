package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	"github.com/meterline/meterline/internal/invoice/domain"
	"github.com/meterline/meterline/internal/providers/pdf"
	"github.com/meterline/meterline/internal/rating"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	GenID    *snowflake.Node
	Tenants  tenantdomain.Service
	Usage    usagedomain.Service
	Resolver entitlement.Resolver
	Pricing  *config.PricingHolder
	Renderer pdf.Renderer
	Custom   rating.CustomComputer `optional:"true"`
	Log      *zap.Logger
}

type invoiceService struct {
	db       *gorm.DB
	genID    *snowflake.Node
	tenants  tenantdomain.Service
	usage    usagedomain.Service
	resolver entitlement.Resolver
	pricing  *config.PricingHolder
	renderer pdf.Renderer
	custom   rating.CustomComputer
	log      *zap.Logger
}

func New(p Params) domain.Service {
	return &invoiceService{
		db:       p.DB,
		genID:    p.GenID,
		tenants:  p.Tenants,
		usage:    p.Usage,
		resolver: p.Resolver,
		pricing:  p.Pricing,
		renderer: p.Renderer,
		custom:   p.Custom,
		log:      p.Log.Named("invoice.service"),
	}
}

// Materialize assembles a persistable invoice from computed lines.
// TotalMinor is the exact integer sum of the line amounts.
func Materialize(
	genID *snowflake.Node,
	teamID, billingEntityID snowflake.ID,
	contractID *snowflake.ID,
	periodStart, periodEnd time.Time,
	currency string,
	lines []LineDraft,
	needsReview bool,
) domain.Invoice {
	inv := domain.Invoice{
		ID:              genID.Generate(),
		TeamID:          teamID,
		BillingEntityID: billingEntityID,
		ContractID:      contractID,
		PeriodStart:     periodStart.UTC(),
		PeriodEnd:       periodEnd.UTC(),
		Currency:        currency,
		Status:          domain.StatusIssued,
	}
	if needsReview {
		inv.Status = domain.StatusDraft
	}

	for _, line := range lines {
		inv.Items = append(inv.Items, domain.InvoiceLineItem{
			ID:             genID.Generate(),
			InvoiceID:      inv.ID,
			MeterKey:       line.MeterKey,
			ChargeType:     line.ChargeType,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			AmountMinor:    line.AmountMinor,
			Flagged:        line.Flagged,
			Note:           line.Note,
		})
		inv.TotalMinor += line.AmountMinor
	}
	return inv
}

func (s *invoiceService) Generate(ctx context.Context, teamID snowflake.ID, periodStart, periodEnd time.Time) (*domain.Invoice, error) {
	if periodStart.After(periodEnd) {
		return nil, domain.ErrInvalidPeriod
	}

	team, err := s.tenants.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	entity, err := s.tenants.BillingEntityForTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	ents, err := s.resolver.Resolve(ctx, team.AppID, teamID)
	if err != nil {
		return nil, err
	}
	usageByMeter, err := s.usage.QuantityByMeter(ctx, teamID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	pricing := s.pricing.Get()
	lines, needsReview := BuildLines(ctx, ents, usageByMeter, pricing, s.custom)

	inv := Materialize(s.genID, teamID, entity.ID, nil, periodStart, periodEnd, pricing.Currency, lines, needsReview)
	if err := s.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, err
	}

	s.log.Info("generated invoice",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("team_id", teamID.String()),
		zap.String("status", string(inv.Status)),
		zap.Int64("total_minor", inv.TotalMinor),
	)
	return &inv, nil
}

func (s *invoiceService) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&inv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *invoiceService) Export(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	team, err := s.tenants.GetTeam(ctx, inv.TeamID)
	if err != nil {
		return nil, err
	}

	doc := pdf.InvoiceDocument{
		InvoiceNumber: inv.ID.String(),
		Status:        string(inv.Status),
		TeamName:      team.Name,
		PeriodStart:   inv.PeriodStart.Format("2006-01-02"),
		PeriodEnd:     inv.PeriodEnd.Format("2006-01-02"),
		Currency:      inv.Currency,
		Total:         formatMinor(inv.TotalMinor),
	}
	for _, item := range inv.Items {
		doc.Items = append(doc.Items, pdf.InvoiceLine{
			MeterKey:   item.MeterKey,
			ChargeType: string(item.ChargeType),
			Quantity:   strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", item.Quantity), "0"), "."),
			UnitPrice:  formatMinor(item.UnitPriceMinor),
			Amount:     formatMinor(item.AmountMinor),
			Note:       item.Note,
		})
	}

	return s.renderer.RenderInvoice(ctx, doc)
}

func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func (s *invoiceService) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.transition(ctx, id, domain.StatusPaid, []domain.InvoiceStatus{domain.StatusDraft, domain.StatusIssued})
}

func (s *invoiceService) MarkVoid(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.transition(ctx, id, domain.StatusVoid, []domain.InvoiceStatus{domain.StatusDraft, domain.StatusIssued})
}

// transition applies a conditional update so concurrent transitions on
// the same invoice cannot both win.
func (s *invoiceService) transition(ctx context.Context, id snowflake.ID, to domain.InvoiceStatus, from []domain.InvoiceStatus) (*domain.Invoice, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing invoice from one in a terminal state.
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidInvoiceStatus
	}

	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice transitioned",
		zap.String("invoice_id", id.String()),
		zap.String("status", string(to)),
	)
	return inv, nil
}
