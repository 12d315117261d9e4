// Package domain contains persistence models for apps, teams, users and
// billing entities.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// App is a tenant-facing product boundary.
type App struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_apps_code"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (App) TableName() string { return "apps" }

// TeamKind distinguishes auto-provisioned personal teams from shared ones.
type TeamKind string

const (
	TeamKindPersonal   TeamKind = "PERSONAL"
	TeamKindStandard   TeamKind = "STANDARD"
	TeamKindEnterprise TeamKind = "ENTERPRISE"
)

// Team is the billing/usage unit within an App.
type Team struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	AppID       snowflake.ID  `json:"app_id" gorm:"not null;index"`
	Code        string        `json:"code" gorm:"type:text;not null"`
	Name        string        `json:"name" gorm:"type:text;not null"`
	Kind        TeamKind      `json:"kind" gorm:"type:text;not null"`
	BillingMode string        `json:"billing_mode" gorm:"type:text;not null;default:'standard'"`
	OwnerUserID *snowflake.ID `json:"owner_user_id" gorm:"index"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Team) TableName() string { return "teams" }

// User is an identity scoped to an App, unique on (app, external ref).
type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	AppID       snowflake.ID `json:"app_id" gorm:"not null;uniqueIndex:ux_users_app_external_ref,priority:1"`
	ExternalRef string       `json:"external_ref" gorm:"type:text;not null;uniqueIndex:ux_users_app_external_ref,priority:2"`
	DisplayName string       `json:"display_name" gorm:"type:text;not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// MemberRole is a member's role within a team.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// MemberStatus tracks the membership lifecycle.
type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "ACTIVE"
	MemberStatusInvited MemberStatus = "INVITED"
	MemberStatusRemoved MemberStatus = "REMOVED"
)

// TeamMember is the membership edge, unique per (team, user).
type TeamMember struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TeamID    snowflake.ID `json:"team_id" gorm:"not null;uniqueIndex:ux_team_members_team_user,priority:1"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_team_members_team_user,priority:2"`
	Role      MemberRole   `json:"role" gorm:"type:text;not null"`
	Status    MemberStatus `json:"status" gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TeamMember) TableName() string { return "team_members" }

// BillingEntityOwnerType leaves room for non-team owners later.
type BillingEntityOwnerType string

const (
	BillingEntityOwnerTeam BillingEntityOwnerType = "TEAM"
)

// BillingEntity is the thing actually invoiced.
type BillingEntity struct {
	ID        snowflake.ID           `json:"id" gorm:"primaryKey"`
	OwnerType BillingEntityOwnerType `json:"owner_type" gorm:"type:text;not null;default:'TEAM'"`
	TeamID    snowflake.ID           `json:"team_id" gorm:"not null;uniqueIndex:ux_billing_entities_team"`
	CreatedAt time.Time              `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingEntity) TableName() string { return "billing_entities" }
