// Package scheduler runs the period-close engine: it scans contracts
// whose billing period has ended, claims them one at a time and turns
// usage plus entitlements into invoices.
package scheduler

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ClosureStatus string

const (
	ClosureClaimed  ClosureStatus = "CLAIMED"
	ClosureResolved ClosureStatus = "RESOLVED"
)

// PeriodClosure is the per (contract, period) processing claim. The
// unique index makes the claim an atomic insert-or-conflict: winning
// the insert means owning the close, losing it means someone else does.
type PeriodClosure struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	ContractID  snowflake.ID  `json:"contract_id" gorm:"not null;uniqueIndex:ux_period_closures_contract_period,priority:1"`
	PeriodStart time.Time     `json:"period_start" gorm:"not null;uniqueIndex:ux_period_closures_contract_period,priority:2"`
	PeriodEnd   time.Time     `json:"period_end" gorm:"not null"`
	Status      ClosureStatus `json:"status" gorm:"type:text;not null;default:'CLAIMED'"`
	InvoiceID   *snowflake.ID `json:"invoice_id"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PeriodClosure) TableName() string { return "period_closures" }

// RunReport aggregates the outcome of one close run. A contract
// failure lands in Errors without aborting the run.
type RunReport struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Invoices  []snowflake.ID `json:"invoices"`
	Errors    []string       `json:"errors"`
}
