package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ProvisionUserRequest struct {
	AppID       string `json:"app_id"`
	ExternalRef string `json:"external_ref"`
	DisplayName string `json:"display_name"`
}

// ProvisionUserResponse reports the user and their personal team.
// Created is false when the (app, externalRef) pair already existed.
type ProvisionUserResponse struct {
	User         User `json:"user"`
	PersonalTeam Team `json:"personal_team"`
	Created      bool `json:"created"`
}

type CreateAppRequest struct {
	Name string `json:"name"`
}

type CreateTeamRequest struct {
	AppID string   `json:"app_id"`
	Name  string   `json:"name"`
	Kind  TeamKind `json:"kind"`
}

type Service interface {
	CreateApp(ctx context.Context, req CreateAppRequest) (*App, error)
	CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error)
	ProvisionUser(ctx context.Context, req ProvisionUserRequest) (*ProvisionUserResponse, error)
	GetTeam(ctx context.Context, teamID snowflake.ID) (*Team, error)
	BillingEntityForTeam(ctx context.Context, teamID snowflake.ID) (*BillingEntity, error)
}

var (
	ErrAppNotFound           = errors.New("app_not_found")
	ErrTeamNotFound          = errors.New("team_not_found")
	ErrUserNotFound          = errors.New("user_not_found")
	ErrMemberExists          = errors.New("member_exists")
	ErrBillingEntityNotFound = errors.New("billing_entity_not_found")
	ErrInvalidExternalRef    = errors.New("invalid_external_ref")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidTeamKind       = errors.New("invalid_team_kind")
)
