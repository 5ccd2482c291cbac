package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/planforge/planforge/internal/clock"
	entitlementdomain "github.com/planforge/planforge/internal/entitlement/domain"
	"github.com/planforge/planforge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dayLayout = "2006-01-02"

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("entitlement.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// HashIdentity derives the lookup key from a raw contact identity. The raw
// identity must never be persisted or logged by this subsystem.
func HashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identity))))
	return hex.EncodeToString(sum[:])
}

func (s *Service) CheckAccess(ctx context.Context, identity string, action entitlementdomain.Action) (entitlementdomain.AccessDecision, error) {
	if strings.TrimSpace(identity) == "" {
		return entitlementdomain.AccessDecision{}, entitlementdomain.ErrInvalidIdentity
	}
	if _, ok := entitlementdomain.ParseAction(string(action)); !ok {
		return entitlementdomain.AccessDecision{}, entitlementdomain.ErrInvalidAction
	}

	hash := HashIdentity(identity)
	now := s.clock.Now().UTC()

	membershipDenial, decided, err := s.checkMembership(ctx, hash, action, now)
	if err != nil {
		return entitlementdomain.AccessDecision{}, err
	}
	if decided && membershipDenial.Allowed {
		return membershipDenial, nil
	}

	// Membership denied or absent: a trial grant can still admit.
	trial, err := s.activeTrial(ctx, hash, action, now)
	if err != nil {
		return entitlementdomain.AccessDecision{}, err
	}
	if trial != nil {
		remaining := trial.UsageLimit - trial.UsageCount
		resetAt := trial.ExpiresAt
		return entitlementdomain.AccessDecision{
			Allowed:   true,
			Remaining: &remaining,
			ResetAt:   &resetAt,
		}, nil
	}

	if decided {
		return membershipDenial, nil
	}
	return entitlementdomain.AccessDecision{
		Allowed: false,
		Reason:  entitlementdomain.ReasonNotEntitled,
	}, nil
}

// checkMembership returns the membership-tier decision and whether
// membership applied at all. A denial here is not final: the caller still
// consults trial grants before surfacing it.
func (s *Service) checkMembership(ctx context.Context, hash string, action entitlementdomain.Action, now time.Time) (entitlementdomain.AccessDecision, bool, error) {
	var record entitlementdomain.EntitlementRecord
	err := s.db.WithContext(ctx).
		Where("identity_hash = ?", hash).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return entitlementdomain.AccessDecision{}, false, err
	}
	if record.IdentityHash == "" || record.MembershipTier != entitlementdomain.TierPro {
		return entitlementdomain.AccessDecision{}, false, nil
	}

	var grant entitlementdomain.ActionEntitlement
	err = s.db.WithContext(ctx).
		Where("identity_hash = ? AND action = ?", hash, action).
		Limit(1).
		Find(&grant).Error
	if err != nil {
		return entitlementdomain.AccessDecision{}, false, err
	}

	if grant.IdentityHash == "" || !grant.Unlimited {
		return entitlementdomain.AccessDecision{
			Allowed: false,
			Reason:  entitlementdomain.ReasonUpgradeRequired,
		}, true, nil
	}

	ceiling := entitlementdomain.DailyCeiling(action)
	used := 0
	if grant.LastUsedDay == now.Format(dayLayout) {
		used = grant.UsedToday
	}
	if used >= ceiling {
		resetAt := nextMidnight(now)
		return entitlementdomain.AccessDecision{
			Allowed: false,
			Reason:  entitlementdomain.ReasonDailyLimitExceeded,
			ResetAt: &resetAt,
		}, true, nil
	}

	remaining := ceiling - used
	resetAt := nextMidnight(now)
	return entitlementdomain.AccessDecision{
		Allowed:   true,
		Remaining: &remaining,
		ResetAt:   &resetAt,
	}, true, nil
}

// activeTrial selects the most recently created ACTIVE, unexpired,
// unexhausted grant for the action's SKU.
func (s *Service) activeTrial(ctx context.Context, hash string, action entitlementdomain.Action, now time.Time) (*entitlementdomain.TrialEntitlement, error) {
	sku := entitlementdomain.TrialSKU(action)
	if sku == "" {
		return nil, nil
	}

	var trials []entitlementdomain.TrialEntitlement
	err := s.db.WithContext(ctx).
		Where("identity_hash = ? AND sku_id = ? AND status = ?", hash, sku, entitlementdomain.TrialActive).
		Order("created_at DESC").
		Limit(1).
		Find(&trials).Error
	if err != nil {
		return nil, err
	}
	if len(trials) == 0 || !trials[0].Usable(now) {
		return nil, nil
	}
	return &trials[0], nil
}

// RecordUsage books one consumed unit against whichever entitlement admitted
// the customer: the membership day counter when an unlimited grant still has
// headroom today, otherwise the active trial.
func (s *Service) RecordUsage(ctx context.Context, identity string, action entitlementdomain.Action) error {
	if strings.TrimSpace(identity) == "" {
		return entitlementdomain.ErrInvalidIdentity
	}
	if _, ok := entitlementdomain.ParseAction(string(action)); !ok {
		return entitlementdomain.ErrInvalidAction
	}

	hash := HashIdentity(identity)
	now := s.clock.Now().UTC()
	today := now.Format(dayLayout)

	// Same-day increments and date rollover resolve inside one conditional
	// UPDATE expression rather than a read-then-write, narrowing the race
	// window for concurrent requests from the same customer. The ceiling
	// guard keeps a maxed-out membership from absorbing a unit that a trial
	// admitted; the update then misses and the trial below is booked.
	res := s.db.WithContext(ctx).Exec(
		`UPDATE action_entitlements
		 SET used_today = CASE WHEN last_used_day = ? THEN used_today + 1 ELSE 1 END,
		     last_used_day = ?,
		     updated_at = ?
		 WHERE identity_hash = ? AND action = ? AND unlimited = ?
		   AND (last_used_day <> ? OR used_today < ?)`,
		today, today, now, hash, action, true,
		today, entitlementdomain.DailyCeiling(action),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	trial, err := s.activeTrial(ctx, hash, action, now)
	if err != nil {
		return err
	}
	if trial == nil {
		return entitlementdomain.ErrNothingToRecord
	}

	// Read followed by a guarded increment. Two concurrent calls can both
	// pass the read and one loses the guard; the fallback below lets the
	// loser through, so the limit can be exceeded by at most one unit.
	res = s.db.WithContext(ctx).Exec(
		`UPDATE trial_entitlements
		 SET usage_count = usage_count + 1,
		     status = CASE WHEN usage_count + 1 >= usage_limit THEN ? ELSE status END,
		     updated_at = ?
		 WHERE id = ? AND usage_count = ?`,
		entitlementdomain.TrialExhausted, now, trial.ID, trial.UsageCount,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		res = s.db.WithContext(ctx).Exec(
			`UPDATE trial_entitlements
			 SET usage_count = usage_count + 1,
			     status = CASE WHEN usage_count + 1 >= usage_limit THEN ? ELSE status END,
			     updated_at = ?
			 WHERE id = ?`,
			entitlementdomain.TrialExhausted, now, trial.ID,
		)
		if res.Error != nil {
			return res.Error
		}
		s.log.Warn("trial increment raced, applied unguarded",
			zap.String("identity_hash", hash[:12]),
			zap.String("action", string(action)),
		)
	}
	return nil
}

// GrantTrial provisions a trial row for the purchase collaborator. A
// redelivered grant key is swallowed: the original row already carries the
// entitlement.
func (s *Service) GrantTrial(ctx context.Context, grant entitlementdomain.TrialGrant) error {
	if strings.TrimSpace(grant.Identity) == "" {
		return entitlementdomain.ErrInvalidIdentity
	}
	if strings.TrimSpace(grant.SKUID) == "" || strings.TrimSpace(grant.GrantKey) == "" || grant.UsageLimit <= 0 {
		return entitlementdomain.ErrInvalidGrant
	}

	now := s.clock.Now().UTC()
	key := strings.TrimSpace(grant.GrantKey)
	row := entitlementdomain.TrialEntitlement{
		ID:           s.genID.Generate(),
		IdentityHash: HashIdentity(grant.Identity),
		SKUID:        strings.TrimSpace(grant.SKUID),
		GrantKey:     &key,
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    grant.ExpiresAt.UTC(),
		UsageLimit:   grant.UsageLimit,
		UsageCount:   0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Create(&row).Error
	if db.IsDuplicateKeyErr(err) {
		s.log.Info("trial grant redelivered, ignoring",
			zap.String("sku_id", row.SKUID),
			zap.String("grant_key", key),
		)
		return nil
	}
	return err
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
