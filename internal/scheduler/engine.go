package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	auditdomain "github.com/meterline/meterline/internal/audit/domain"
	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	"github.com/meterline/meterline/internal/clock"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	invoiceservice "github.com/meterline/meterline/internal/invoice/service"
	"github.com/meterline/meterline/internal/observability/metrics"
	"github.com/meterline/meterline/internal/rating"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
	"github.com/meterline/meterline/pkg/db"
)

// claimStaleAfter is how long a CLAIMED closure may sit without
// progress before another run may take it over. Covers workers that
// crashed after claiming but before invoicing.
const claimStaleAfter = 10 * time.Minute

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	GenID    *snowflake.Node
	Cfg      config.Config
	Pricing  *config.PricingHolder
	Resolver entitlement.Resolver
	Usage    usagedomain.Service
	Custom   rating.CustomComputer `optional:"true"`
	Clock    clock.Clock
	Audit    auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Log      *zap.Logger
}

type Engine struct {
	db       *gorm.DB
	genID    *snowflake.Node
	cfg      config.Config
	pricing  *config.PricingHolder
	resolver entitlement.Resolver
	usage    usagedomain.Service
	custom   rating.CustomComputer
	clock    clock.Clock
	audit    auditdomain.Service
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func New(p Params) *Engine {
	return &Engine{
		db:       p.DB,
		genID:    p.GenID,
		cfg:      p.Cfg,
		pricing:  p.Pricing,
		resolver: p.Resolver,
		usage:    p.Usage,
		custom:   p.Custom,
		clock:    p.Clock,
		audit:    p.Audit,
		metrics:  p.Metrics,
		log:      p.Log.Named("scheduler.engine"),
	}
}

// RunForever polls for due contracts until the context is cancelled.
// A bounded poll interval doubles as the retry path for runs that
// failed or crashed mid-close.
func (e *Engine) RunForever(ctx context.Context) {
	interval := e.cfg.SchedulerPollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("period-close engine started", zap.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("period-close engine stopped")
			return
		case <-ticker.C:
			if hour := e.cfg.SchedulerCloseHourUTC; hour >= 0 && e.clock.Now().UTC().Hour() != hour {
				continue
			}
			report, err := e.RunOnce(ctx)
			if err != nil {
				e.log.Error("period-close run failed", zap.Error(err))
				continue
			}
			if report.Processed > 0 || report.Failed > 0 {
				e.log.Info("period-close run finished",
					zap.Int("processed", report.Processed),
					zap.Int("skipped", report.Skipped),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}

// RunOnce closes every due contract once. Contract failures are
// isolated: they land in the report's Errors and never abort the run.
func (e *Engine) RunOnce(ctx context.Context) (*RunReport, error) {
	now := e.clock.Now().UTC()

	batchSize := e.cfg.SchedulerBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var due []bundledomain.Contract
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status = ? AND current_period_end <= ?", bundledomain.ContractStatusActive, now).
			Order("current_period_end ASC").
			Limit(batchSize)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		return q.Find(&due).Error
	})
	if err != nil {
		e.metrics.RecordSchedulerRun(true)
		return nil, err
	}

	report := &RunReport{}
	for _, contract := range due {
		outcome, invoiceID, cerr := e.closeContract(ctx, contract, now)
		e.metrics.RecordContractOutcome(string(outcome))
		switch outcome {
		case OutcomeProcessed:
			report.Processed++
			report.Invoices = append(report.Invoices, invoiceID)
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("contract %s: %v", contract.ID, cerr))
			e.log.Warn("contract close failed",
				zap.String("contract_id", contract.ID.String()),
				zap.Error(cerr),
			)
		}
	}

	e.metrics.RecordSchedulerRun(false)
	return report, nil
}

func (e *Engine) closeContract(ctx context.Context, contract bundledomain.Contract, now time.Time) (Outcome, snowflake.ID, error) {
	periodStart := contract.CurrentPeriodStart.UTC()
	periodEnd := contract.CurrentPeriodEnd.UTC()

	claim := PeriodClosure{
		ID:          e.genID.Generate(),
		ContractID:  contract.ID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      ClosureClaimed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.db.WithContext(ctx).Create(&claim).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return OutcomeFailed, 0, err
		}
		// Losing the claim race is control flow, not an error.
		return e.handleExistingClaim(ctx, contract, periodStart, now, &claim)
	}

	return e.settle(ctx, contract, claim, now)
}

// handleExistingClaim decides what a lost claim insert means: already
// closed, recoverable after a crash between invoice and resolution,
// held by a live worker, or abandoned and ready for takeover.
func (e *Engine) handleExistingClaim(ctx context.Context, contract bundledomain.Contract, periodStart, now time.Time, claim *PeriodClosure) (Outcome, snowflake.ID, error) {
	var existing PeriodClosure
	err := e.db.WithContext(ctx).
		Where("contract_id = ? AND period_start = ?", contract.ID, periodStart).
		First(&existing).Error
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if existing.Status == ClosureResolved {
		return OutcomeSkipped, 0, nil
	}

	// Closed status is re-derived from invoice presence, not just the
	// claim row: a crash between invoice persist and claim resolve must
	// not double-invoice on retry.
	var invoice invoicedomain.Invoice
	err = e.db.WithContext(ctx).
		Where("contract_id = ? AND period_start = ? AND status <> ?", contract.ID, periodStart, invoicedomain.StatusVoid).
		First(&invoice).Error
	switch {
	case err == nil:
		rerr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if terr := e.resolveClaimTx(tx, existing.ID, &invoice.ID, now); terr != nil {
				return terr
			}
			return e.advancePeriodTx(tx, contract, now)
		})
		if rerr != nil {
			return OutcomeFailed, 0, rerr
		}
		return OutcomeSkipped, 0, nil
	case err != gorm.ErrRecordNotFound:
		return OutcomeFailed, 0, err
	}

	// No invoice yet. Take the claim over only once it has gone stale.
	res := e.db.WithContext(ctx).
		Model(&PeriodClosure{}).
		Where("id = ? AND status = ? AND updated_at < ?", existing.ID, ClosureClaimed, now.Add(-claimStaleAfter)).
		Update("updated_at", now)
	if res.Error != nil {
		return OutcomeFailed, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return OutcomeSkipped, 0, nil
	}

	*claim = existing
	return e.settle(ctx, contract, *claim, now)
}

func (e *Engine) settle(ctx context.Context, contract bundledomain.Contract, claim PeriodClosure, now time.Time) (Outcome, snowflake.ID, error) {
	teamID, entityID, err := e.teamForContract(ctx, contract)
	if err != nil {
		return OutcomeFailed, 0, err
	}

	ents, err := e.resolver.ResolveContract(ctx, contract.ID)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	usageByMeter, err := e.usage.QuantityByMeter(ctx, teamID, claim.PeriodStart, claim.PeriodEnd)
	if err != nil {
		return OutcomeFailed, 0, err
	}

	pricing := e.pricing.Get()
	lines, needsReview := invoiceservice.BuildLines(ctx, ents, usageByMeter, pricing, e.custom)

	// Nothing billable still resolves the claim and advances the
	// period, otherwise the contract would be rescanned forever.
	if len(lines) == 0 {
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if terr := e.resolveClaimTx(tx, claim.ID, nil, now); terr != nil {
				return terr
			}
			return e.advancePeriodTx(tx, contract, now)
		})
		if err != nil {
			return OutcomeFailed, 0, err
		}
		e.auditEvent(ctx, "contract.period_closed", "contract", contract.ID.String(), map[string]any{
			"period_start": claim.PeriodStart.Format(time.RFC3339),
			"period_end":   claim.PeriodEnd.Format(time.RFC3339),
			"billable":     false,
		})
		return OutcomeSkipped, 0, nil
	}

	invoice := invoiceservice.Materialize(
		e.genID,
		teamID, entityID, &contract.ID,
		claim.PeriodStart, claim.PeriodEnd,
		pricing.Currency,
		lines, needsReview,
	)

	// Invoice persist, claim resolution and period advance commit
	// together: a crash leaves either nothing or a recoverable invoice.
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if terr := tx.Create(&invoice).Error; terr != nil {
			return terr
		}
		if terr := e.resolveClaimTx(tx, claim.ID, &invoice.ID, now); terr != nil {
			return terr
		}
		return e.advancePeriodTx(tx, contract, now)
	})
	if err != nil {
		return OutcomeFailed, 0, err
	}

	e.log.Info("closed billing period",
		zap.String("contract_id", contract.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("status", string(invoice.Status)),
		zap.Int64("total_minor", invoice.TotalMinor),
	)
	e.auditEvent(ctx, "invoice.generated", "invoice", invoice.ID.String(), map[string]any{
		"contract_id":  contract.ID.String(),
		"period_start": claim.PeriodStart.Format(time.RFC3339),
		"period_end":   claim.PeriodEnd.Format(time.RFC3339),
		"status":       string(invoice.Status),
		"total_minor":  invoice.TotalMinor,
	})
	return OutcomeProcessed, invoice.ID, nil
}

// auditEvent records scheduler transitions under the "scheduler" actor.
// Audit failures are logged and swallowed so a broken audit sink never
// blocks period close.
func (e *Engine) auditEvent(ctx context.Context, action, entityType, entityID string, metadata map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.AuditLog(ctx, action, entityType, entityID, "scheduler", metadata); err != nil {
		e.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (e *Engine) resolveClaimTx(tx *gorm.DB, claimID snowflake.ID, invoiceID *snowflake.ID, now time.Time) error {
	updates := map[string]any{
		"status":     ClosureResolved,
		"updated_at": now,
	}
	if invoiceID != nil {
		updates["invoice_id"] = *invoiceID
	}
	return tx.Model(&PeriodClosure{}).Where("id = ?", claimID).Updates(updates).Error
}

func (e *Engine) advancePeriodTx(tx *gorm.DB, contract bundledomain.Contract, now time.Time) error {
	nextStart := contract.CurrentPeriodEnd
	return tx.Model(&bundledomain.Contract{}).
		Where("id = ?", contract.ID).
		Updates(map[string]any{
			"current_period_start": nextStart,
			"current_period_end":   bundledomain.NextPeriodEnd(contract.Cadence, nextStart),
			"updated_at":           now,
		}).Error
}

func (e *Engine) teamForContract(ctx context.Context, contract bundledomain.Contract) (snowflake.ID, snowflake.ID, error) {
	var row struct {
		TeamID snowflake.ID
	}
	err := e.db.WithContext(ctx).
		Table("billing_entities").
		Select("team_id").
		Where("id = ?", contract.BillingEntityID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	if row.TeamID == 0 {
		return 0, 0, fmt.Errorf("billing entity %s has no team", contract.BillingEntityID)
	}
	return row.TeamID, contract.BillingEntityID, nil
}
