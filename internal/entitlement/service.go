package entitlement

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
)

// Resolver answers "what is this team entitled to on this app". It is
// read-only and safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, appID, teamID snowflake.ID) ([]Entitlement, error)
	ResolveContract(ctx context.Context, contractID snowflake.ID) ([]Entitlement, error)
}

type Params struct {
	fx.In

	Tenants tenantdomain.Service
	Bundles bundledomain.Service
	Log     *zap.Logger
}

type resolver struct {
	tenants tenantdomain.Service
	bundles bundledomain.Service
	log     *zap.Logger
}

func New(p Params) Resolver {
	return &resolver{
		tenants: p.Tenants,
		bundles: p.Bundles,
		log:     p.Log.Named("entitlement.resolver"),
	}
}

func (r *resolver) Resolve(ctx context.Context, appID, teamID snowflake.ID) ([]Entitlement, error) {
	if _, err := r.tenants.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}

	grants, err := r.bundles.PoliciesFor(ctx, appID, teamID)
	if err != nil {
		return nil, err
	}
	return Merge(grants), nil
}

func (r *resolver) ResolveContract(ctx context.Context, contractID snowflake.ID) ([]Entitlement, error) {
	grants, err := r.bundles.PoliciesForContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return Merge(grants), nil
}
