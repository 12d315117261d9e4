// Package domain contains invoice persistence models and the service
// contract for invoice operations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	StatusDraft  InvoiceStatus = "DRAFT"
	StatusIssued InvoiceStatus = "ISSUED"
	StatusPaid   InvoiceStatus = "PAID"
	StatusVoid   InvoiceStatus = "VOID"
)

type ChargeType string

const (
	ChargeIncluded ChargeType = "included"
	ChargeOverage  ChargeType = "overage"
	ChargeFlagged  ChargeType = "flagged"
	ChargeCustom   ChargeType = "custom"
)

// Invoice settles one billing period for a team. TotalMinor is always
// the exact integer sum of its line item amounts.
type Invoice struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	TeamID          snowflake.ID      `json:"team_id" gorm:"not null;index"`
	BillingEntityID snowflake.ID      `json:"billing_entity_id" gorm:"not null;index"`
	ContractID      *snowflake.ID     `json:"contract_id" gorm:"index:ix_invoices_contract_period,priority:1"`
	PeriodStart     time.Time         `json:"period_start" gorm:"not null;index:ix_invoices_contract_period,priority:2"`
	PeriodEnd       time.Time         `json:"period_end" gorm:"not null"`
	Currency        string            `json:"currency" gorm:"type:text;not null"`
	Status          InvoiceStatus     `json:"status" gorm:"type:text;not null;default:'DRAFT'"`
	TotalMinor      int64             `json:"total_minor" gorm:"not null;default:0"`
	Items           []InvoiceLineItem `json:"items" gorm:"foreignKey:InvoiceID"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceLineItem struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	MeterKey       string       `json:"meter_key" gorm:"type:text;not null"`
	ChargeType     ChargeType   `json:"charge_type" gorm:"type:text;not null"`
	Quantity       float64      `json:"quantity" gorm:"not null"`
	UnitPriceMinor int64        `json:"unit_price_minor" gorm:"not null;default:0"`
	AmountMinor    int64        `json:"amount_minor" gorm:"not null;default:0"`
	Flagged        bool         `json:"flagged" gorm:"not null;default:false"`
	Note           string       `json:"note" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InvoiceLineItem) TableName() string { return "invoice_line_items" }
