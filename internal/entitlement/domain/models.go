// Package domain contains persistence models for customer entitlements.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type MembershipTier string

const (
	TierNone MembershipTier = "NONE"
	TierPro  MembershipTier = "PRO"
)

// Metered actions and their fixed daily ceilings. Deliberately constants,
// not data-driven.
type Action string

const (
	ActionRegenerate Action = "plan_regenerate"
	ActionUtility    Action = "utility"
)

func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionRegenerate, ActionUtility:
		return Action(raw), true
	default:
		return "", false
	}
}

func DailyCeiling(action Action) int {
	switch action {
	case ActionRegenerate:
		return 10
	case ActionUtility:
		return 25
	default:
		return 0
	}
}

// TrialSKU maps an action to the product SKU whose trial grants cover it.
func TrialSKU(action Action) string {
	switch action {
	case ActionRegenerate:
		return "sprint-plan"
	case ActionUtility:
		return "utility-pack"
	default:
		return ""
	}
}

// EntitlementRecord is a customer's standing membership. The key is a
// one-way hash of the contact identity; the raw identity never reaches
// this table. Created and updated by the billing collaborator.
type EntitlementRecord struct {
	IdentityHash   string         `gorm:"primaryKey;type:text"`
	MembershipTier MembershipTier `gorm:"type:text;not null;default:'NONE'"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (EntitlementRecord) TableName() string { return "entitlement_records" }

// ActionEntitlement carries one action's unlimited flag and same-day usage
// for a member. Usage counts are only valid for LastUsedDay; any other day
// reads as zero.
type ActionEntitlement struct {
	IdentityHash string    `gorm:"primaryKey;type:text"`
	Action       Action    `gorm:"primaryKey;type:text"`
	Unlimited    bool      `gorm:"not null;default:false"`
	UsedToday    int       `gorm:"not null;default:0"`
	LastUsedDay  string    `gorm:"type:text;not null;default:''"` // YYYY-MM-DD, UTC
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ActionEntitlement) TableName() string { return "action_entitlements" }

type TrialStatus string

const (
	TrialActive    TrialStatus = "ACTIVE"
	TrialExpired   TrialStatus = "EXPIRED"
	TrialExhausted TrialStatus = "EXHAUSTED"
)

// TrialEntitlement is a time-boxed, usage-capped grant independent of
// membership. Created by the purchase collaborator; only UsageCount and
// Status are mutated here. Never hard-deleted.
type TrialEntitlement struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	IdentityHash string       `gorm:"type:text;not null;index:idx_trial_identity_sku"`
	SKUID        string       `gorm:"column:sku_id;type:text;not null;index:idx_trial_identity_sku"`
	// GrantKey is the purchase collaborator's idempotency key; re-grants
	// for the same SKU insert a new row with a new key.
	GrantKey   *string     `gorm:"type:text;uniqueIndex"`
	Status     TrialStatus `gorm:"type:text;not null;default:'ACTIVE'"`
	ExpiresAt  time.Time   `gorm:"not null"`
	UsageLimit int         `gorm:"not null"`
	UsageCount int         `gorm:"not null;default:0"`
	CreatedAt  time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TrialEntitlement) TableName() string { return "trial_entitlements" }

func (t TrialEntitlement) Usable(now time.Time) bool {
	return t.Status == TrialActive && now.Before(t.ExpiresAt) && t.UsageCount < t.UsageLimit
}

// Denial reasons surfaced to callers.
const (
	ReasonDailyLimitExceeded = "daily_limit_exceeded"
	ReasonUpgradeRequired    = "upgrade_required"
	ReasonNotEntitled        = "not_entitled"
)

// AccessDecision is the meter's verdict for one (customer, action) pair.
type AccessDecision struct {
	Allowed   bool
	Reason    string
	Remaining *int
	ResetAt   *time.Time
}

// TrialGrant is the purchase collaborator's request to provision a trial.
// GrantKey is its idempotency key: redelivering the same grant is a no-op.
type TrialGrant struct {
	Identity   string
	SKUID      string
	GrantKey   string
	ExpiresAt  time.Time
	UsageLimit int
}

type Service interface {
	CheckAccess(ctx context.Context, identity string, action Action) (AccessDecision, error)
	RecordUsage(ctx context.Context, identity string, action Action) error
	GrantTrial(ctx context.Context, grant TrialGrant) error
}

var (
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrInvalidAction   = errors.New("invalid_action")
	ErrInvalidGrant    = errors.New("invalid_grant")
	ErrNothingToRecord = errors.New("no_active_entitlement")
)
