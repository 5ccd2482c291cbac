package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/planforge/planforge/internal/clock"
	entitlementdomain "github.com/planforge/planforge/internal/entitlement/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMeter(t *testing.T, clk clock.Clock) (entitlementdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "entitlement.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&entitlementdomain.EntitlementRecord{},
		&entitlementdomain.ActionEntitlement{},
		&entitlementdomain.TrialEntitlement{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: mustNode(t), Clock: clk})
	return svc, db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return node
}

func seedMember(t *testing.T, db *gorm.DB, hash string, unlimited bool, usedToday int, lastUsedDay string) {
	t.Helper()
	if err := db.Create(&entitlementdomain.EntitlementRecord{
		IdentityHash:   hash,
		MembershipTier: entitlementdomain.TierPro,
	}).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := db.Create(&entitlementdomain.ActionEntitlement{
		IdentityHash: hash,
		Action:       entitlementdomain.ActionRegenerate,
		Unlimited:    unlimited,
		UsedToday:    usedToday,
		LastUsedDay:  lastUsedDay,
	}).Error; err != nil {
		t.Fatalf("seed grant: %v", err)
	}
}

func TestCheckAccessProUnderDailyLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	identity := "owner@example.com"
	seedMember(t, db, HashIdentity(identity), true, 9, "2026-03-14")

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %s", decision.Reason)
	}
	if decision.Remaining == nil || *decision.Remaining != 1 {
		t.Fatalf("remaining = %v, want 1", decision.Remaining)
	}
}

func TestCheckAccessProAtDailyLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	identity := "owner@example.com"
	seedMember(t, db, HashIdentity(identity), true, 10, "2026-03-14")

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial at daily limit")
	}
	if decision.Reason != entitlementdomain.ReasonDailyLimitExceeded {
		t.Fatalf("reason = %q, want %q", decision.Reason, entitlementdomain.ReasonDailyLimitExceeded)
	}
	wantReset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if decision.ResetAt == nil || !decision.ResetAt.Equal(wantReset) {
		t.Fatalf("resetAt = %v, want %v", decision.ResetAt, wantReset)
	}
}

func TestCheckAccessStaleUsageResetsOnNewDay(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	identity := "owner@example.com"
	seedMember(t, db, HashIdentity(identity), true, 10, "2026-03-14")

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied after rollover: %s", decision.Reason)
	}
	if decision.Remaining == nil || *decision.Remaining != 10 {
		t.Fatalf("remaining = %v, want 10", decision.Remaining)
	}
}

func TestCheckAccessPaidWithoutFlagDenied(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	identity := "owner@example.com"
	seedMember(t, db, HashIdentity(identity), false, 0, "")

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected upgrade denial")
	}
	if decision.Reason != entitlementdomain.ReasonUpgradeRequired {
		t.Fatalf("reason = %q, want %q", decision.Reason, entitlementdomain.ReasonUpgradeRequired)
	}
}

func TestCheckAccessActiveTrial(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)
	node := mustNode(t)

	identity := "trial@example.com"
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           node.Generate(),
		IdentityHash: HashIdentity(identity),
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(48 * time.Hour),
		UsageLimit:   5,
		UsageCount:   3,
	}).Error; err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %s", decision.Reason)
	}
	if decision.Remaining == nil || *decision.Remaining != 2 {
		t.Fatalf("remaining = %v, want 2", decision.Remaining)
	}
}

func TestCheckAccessExpiredTrialDenied(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)
	node := mustNode(t)

	identity := "trial@example.com"
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           node.Generate(),
		IdentityHash: HashIdentity(identity),
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(-time.Hour),
		UsageLimit:   5,
		UsageCount:   0,
	}).Error; err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial for expired trial")
	}
	if decision.Reason != entitlementdomain.ReasonNotEntitled {
		t.Fatalf("reason = %q, want %q", decision.Reason, entitlementdomain.ReasonNotEntitled)
	}
}

func TestRecordUsageMembershipIncrementsAndResets(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	identity := "owner@example.com"
	hash := HashIdentity(identity)
	seedMember(t, db, hash, true, 4, "2026-03-13")

	// Different day: reset to 1.
	if err := svc.RecordUsage(context.Background(), identity, entitlementdomain.ActionRegenerate); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	var grant entitlementdomain.ActionEntitlement
	if err := db.Where("identity_hash = ?", hash).First(&grant).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	if grant.UsedToday != 1 || grant.LastUsedDay != "2026-03-14" {
		t.Fatalf("grant = used %d day %s, want 1 / 2026-03-14", grant.UsedToday, grant.LastUsedDay)
	}

	// Same day: increment.
	if err := svc.RecordUsage(context.Background(), identity, entitlementdomain.ActionRegenerate); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := db.Where("identity_hash = ?", hash).First(&grant).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	if grant.UsedToday != 2 {
		t.Fatalf("used today = %d, want 2", grant.UsedToday)
	}
}

func TestRecordUsageTrialExhaustsAtLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)
	node := mustNode(t)

	identity := "trial@example.com"
	id := node.Generate()
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           id,
		IdentityHash: HashIdentity(identity),
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(48 * time.Hour),
		UsageLimit:   2,
		UsageCount:   1,
	}).Error; err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	if err := svc.RecordUsage(context.Background(), identity, entitlementdomain.ActionRegenerate); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	var trial entitlementdomain.TrialEntitlement
	if err := db.First(&trial, "id = ?", id).Error; err != nil {
		t.Fatalf("load trial: %v", err)
	}
	if trial.UsageCount != 2 {
		t.Fatalf("usage count = %d, want 2", trial.UsageCount)
	}
	if trial.Status != entitlementdomain.TrialExhausted {
		t.Fatalf("status = %s, want EXHAUSTED", trial.Status)
	}
}

func TestRecordUsageMaxedMembershipFallsThroughToTrial(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)
	node := mustNode(t)

	// The membership is at its daily ceiling, so a trial admitted the
	// request; the trial must absorb the unit, not the membership counter.
	identity := "owner@example.com"
	hash := HashIdentity(identity)
	seedMember(t, db, hash, true, 10, "2026-03-14")

	trialID := node.Generate()
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           trialID,
		IdentityHash: hash,
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(48 * time.Hour),
		UsageLimit:   5,
		UsageCount:   0,
	}).Error; err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %s", decision.Reason)
	}

	if err := svc.RecordUsage(context.Background(), identity, entitlementdomain.ActionRegenerate); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	var grant entitlementdomain.ActionEntitlement
	if err := db.Where("identity_hash = ?", hash).First(&grant).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	if grant.UsedToday != 10 {
		t.Fatalf("membership used today = %d, want 10 (unchanged)", grant.UsedToday)
	}

	var trial entitlementdomain.TrialEntitlement
	if err := db.First(&trial, "id = ?", trialID).Error; err != nil {
		t.Fatalf("load trial: %v", err)
	}
	if trial.UsageCount != 1 {
		t.Fatalf("trial usage count = %d, want 1", trial.UsageCount)
	}
}

func TestMostRecentActiveTrialWins(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)
	node := mustNode(t)

	identity := "trial@example.com"
	hash := HashIdentity(identity)
	older := clk.Now().Add(-72 * time.Hour)
	newer := clk.Now().Add(-time.Hour)

	// An earlier grant for the SKU was partially used before the customer
	// was re-granted; only the newest row counts.
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           node.Generate(),
		IdentityHash: hash,
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(24 * time.Hour),
		UsageLimit:   5,
		UsageCount:   3,
		CreatedAt:    older,
	}).Error; err != nil {
		t.Fatalf("seed older trial: %v", err)
	}
	if err := db.Create(&entitlementdomain.TrialEntitlement{
		ID:           node.Generate(),
		IdentityHash: hash,
		SKUID:        "sprint-plan",
		Status:       entitlementdomain.TrialActive,
		ExpiresAt:    clk.Now().Add(24 * time.Hour),
		UsageLimit:   5,
		UsageCount:   0,
		CreatedAt:    newer,
	}).Error; err != nil {
		t.Fatalf("seed newer trial: %v", err)
	}

	decision, err := svc.CheckAccess(context.Background(), identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %s", decision.Reason)
	}
	if decision.Remaining == nil || *decision.Remaining != 5 {
		t.Fatalf("remaining = %v, want 5", decision.Remaining)
	}
}

func TestGrantTrialRedeliveryIsIdempotent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupMeter(t, clk)

	grant := entitlementdomain.TrialGrant{
		Identity:   "trial@example.com",
		SKUID:      "sprint-plan",
		GrantKey:   "order-8841",
		ExpiresAt:  clk.Now().Add(72 * time.Hour),
		UsageLimit: 5,
	}
	if err := svc.GrantTrial(context.Background(), grant); err != nil {
		t.Fatalf("grant trial: %v", err)
	}
	if err := svc.GrantTrial(context.Background(), grant); err != nil {
		t.Fatalf("redelivered grant: %v", err)
	}

	var count int64
	if err := db.Model(&entitlementdomain.TrialEntitlement{}).Count(&count).Error; err != nil {
		t.Fatalf("count trials: %v", err)
	}
	if count != 1 {
		t.Fatalf("trial rows = %d, want 1", count)
	}

	decision, err := svc.CheckAccess(context.Background(), grant.Identity, entitlementdomain.ActionRegenerate)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %s", decision.Reason)
	}
	if decision.Remaining == nil || *decision.Remaining != 5 {
		t.Fatalf("remaining = %v, want 5", decision.Remaining)
	}
}

func TestGrantTrialValidation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, _ := setupMeter(t, clk)

	err := svc.GrantTrial(context.Background(), entitlementdomain.TrialGrant{
		SKUID: "sprint-plan", GrantKey: "order-1", UsageLimit: 5,
	})
	if err != entitlementdomain.ErrInvalidIdentity {
		t.Fatalf("err = %v, want ErrInvalidIdentity", err)
	}

	err = svc.GrantTrial(context.Background(), entitlementdomain.TrialGrant{
		Identity: "trial@example.com", GrantKey: "order-1", UsageLimit: 5,
	})
	if err != entitlementdomain.ErrInvalidGrant {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}

	err = svc.GrantTrial(context.Background(), entitlementdomain.TrialGrant{
		Identity: "trial@example.com", SKUID: "sprint-plan", GrantKey: "order-1",
	})
	if err != entitlementdomain.ErrInvalidGrant {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}
}

func TestIdentityIsHashedBeforeLookup(t *testing.T) {
	hash := HashIdentity("  Owner@Example.COM ")
	if hash != HashIdentity("owner@example.com") {
		t.Fatal("hash is not normalization-stable")
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(hash))
	}
}
