// Package domain contains persistence models for bundles, meter policies
// and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BundleStatus string

const (
	BundleStatusActive   BundleStatus = "ACTIVE"
	BundleStatusArchived BundleStatus = "ARCHIVED"
)

// Bundle is a named product package with a globally unique code.
type Bundle struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_bundles_code"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Version   int          `json:"version" gorm:"not null;default:1"`
	Status    BundleStatus `json:"status" gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Bundle) TableName() string { return "bundles" }

// BundleApp associates a bundle with an app and carries default
// feature flags for that association.
type BundleApp struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	BundleID     snowflake.ID      `json:"bundle_id" gorm:"not null;uniqueIndex:ux_bundle_apps_bundle_app,priority:1"`
	AppID        snowflake.ID      `json:"app_id" gorm:"not null;uniqueIndex:ux_bundle_apps_bundle_app,priority:2"`
	FeatureFlags datatypes.JSONMap `json:"feature_flags" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BundleApp) TableName() string { return "bundle_apps" }

type LimitType string

const (
	LimitNone      LimitType = "NONE"
	LimitIncluded  LimitType = "INCLUDED"
	LimitUnlimited LimitType = "UNLIMITED"
	LimitHardCap   LimitType = "HARD_CAP"
)

type Enforcement string

const (
	EnforcementNone Enforcement = "NONE"
	EnforcementSoft Enforcement = "SOFT"
	EnforcementHard Enforcement = "HARD"
)

type OverageBilling string

const (
	OverageNone    OverageBilling = "NONE"
	OveragePerUnit OverageBilling = "PER_UNIT"
	OverageTiered  OverageBilling = "TIERED"
	OverageCustom  OverageBilling = "CUSTOM"
)

// BundleMeterPolicy is the per (bundle, app, meter) entitlement rule.
type BundleMeterPolicy struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	BundleID       snowflake.ID   `json:"bundle_id" gorm:"not null;uniqueIndex:ux_bundle_meter_policies,priority:1"`
	AppID          snowflake.ID   `json:"app_id" gorm:"not null;uniqueIndex:ux_bundle_meter_policies,priority:2"`
	MeterKey       string         `json:"meter_key" gorm:"type:text;not null;uniqueIndex:ux_bundle_meter_policies,priority:3"`
	LimitType      LimitType      `json:"limit_type" gorm:"type:text;not null;default:'NONE'"`
	IncludedAmount float64        `json:"included_amount" gorm:"not null;default:0"`
	Enforcement    Enforcement    `json:"enforcement" gorm:"type:text;not null;default:'NONE'"`
	OverageBilling OverageBilling `json:"overage_billing" gorm:"type:text;not null;default:'NONE'"`
	Notes          string         `json:"notes" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BundleMeterPolicy) TableName() string { return "bundle_meter_policies" }

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

type ContractStatus string

const (
	ContractStatusActive ContractStatus = "ACTIVE"
	ContractStatusEnded  ContractStatus = "ENDED"
)

// Contract binds a billing entity to bundles for a billing cadence.
// It is the unit of period-close processing.
type Contract struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	BillingEntityID    snowflake.ID   `json:"billing_entity_id" gorm:"not null;index"`
	Cadence            Cadence        `json:"cadence" gorm:"type:text;not null;default:'monthly'"`
	CurrentPeriodStart time.Time      `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time      `json:"current_period_end" gorm:"not null;index"`
	Status             ContractStatus `json:"status" gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Contract) TableName() string { return "contracts" }

// ContractBundle subscribes a contract to a bundle.
type ContractBundle struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	ContractID snowflake.ID `json:"contract_id" gorm:"not null;uniqueIndex:ux_contract_bundles,priority:1"`
	BundleID   snowflake.ID `json:"bundle_id" gorm:"not null;uniqueIndex:ux_contract_bundles,priority:2"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ContractBundle) TableName() string { return "contract_bundles" }

// NextPeriodEnd advances a period boundary by one cadence step.
func NextPeriodEnd(cadence Cadence, from time.Time) time.Time {
	switch cadence {
	case CadenceDaily:
		return from.AddDate(0, 0, 1)
	case CadenceWeekly:
		return from.AddDate(0, 0, 7)
	default:
		return from.AddDate(0, 1, 0)
	}
}
