package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CreateBundleRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type AttachAppRequest struct {
	BundleID     snowflake.ID      `json:"bundle_id"`
	AppID        snowflake.ID      `json:"app_id"`
	FeatureFlags datatypes.JSONMap `json:"feature_flags"`
}

type SetMeterPolicyRequest struct {
	BundleID       snowflake.ID   `json:"bundle_id"`
	AppID          snowflake.ID   `json:"app_id"`
	MeterKey       string         `json:"meter_key"`
	LimitType      LimitType      `json:"limit_type"`
	IncludedAmount float64        `json:"included_amount"`
	Enforcement    Enforcement    `json:"enforcement"`
	OverageBilling OverageBilling `json:"overage_billing"`
	Notes          string         `json:"notes"`
}

type CreateContractRequest struct {
	TeamID      snowflake.ID   `json:"team_id"`
	BundleIDs   []snowflake.ID `json:"bundle_ids"`
	Cadence     Cadence        `json:"cadence"`
	PeriodStart time.Time      `json:"period_start"`
}

// PolicyGrant is a meter policy as seen through a contract's bundle,
// annotated with the bundle code for deterministic merge tie-breaks.
type PolicyGrant struct {
	BundleCode     string         `json:"bundle_code"`
	MeterKey       string         `json:"meter_key"`
	LimitType      LimitType      `json:"limit_type"`
	IncludedAmount float64        `json:"included_amount"`
	Enforcement    Enforcement    `json:"enforcement"`
	OverageBilling OverageBilling `json:"overage_billing"`
}

type Service interface {
	CreateBundle(ctx context.Context, req CreateBundleRequest) (*Bundle, error)
	GetBundle(ctx context.Context, id snowflake.ID) (*Bundle, error)
	ListBundles(ctx context.Context) ([]Bundle, error)
	AttachApp(ctx context.Context, req AttachAppRequest) (*BundleApp, error)
	SetMeterPolicy(ctx context.Context, req SetMeterPolicyRequest) (*BundleMeterPolicy, error)
	CreateContract(ctx context.Context, req CreateContractRequest) (*Contract, error)
	GetContract(ctx context.Context, id snowflake.ID) (*Contract, error)

	// PoliciesFor returns every meter policy visible to (app, team)
	// through the team's ACTIVE contracts.
	PoliciesFor(ctx context.Context, appID, teamID snowflake.ID) ([]PolicyGrant, error)

	// PoliciesForContract is the period-close view: all grants reachable
	// through one contract's bundles regardless of app.
	PoliciesForContract(ctx context.Context, contractID snowflake.ID) ([]PolicyGrant, error)
}

var (
	ErrBundleNotFound   = errors.New("bundle_not_found")
	ErrBundleCodeExists = errors.New("bundle_code_exists")
	ErrContractNotFound = errors.New("contract_not_found")
	ErrInvalidCadence   = errors.New("invalid_cadence")
	ErrInvalidPolicy    = errors.New("invalid_policy")
	ErrInvalidCode      = errors.New("invalid_code")
)
