package service

import (
	"context"
	"fmt"
	"math"

	"github.com/planforge/planforge/internal/clock"
	"github.com/planforge/planforge/internal/config"
	governordomain "github.com/planforge/planforge/internal/governor/domain"
	"github.com/planforge/planforge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormclause "gorm.io/gorm/clause"
)

const dayLayout = "2006-01-02"

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Catalog *config.ModelCatalogHolder
	Bucket  *ratelimit.TokenBucket `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	catalog *config.ModelCatalogHolder
	bucket  *ratelimit.TokenBucket
}

func NewService(p ServiceParam) governordomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("governor.service"),
		clock:   p.Clock,
		catalog: p.Catalog,
		bucket:  p.Bucket,
	}
}

// Admit checks the pending call against the model's policy and, when
// admitted, books the call into the current-day counter. Uncatalogued
// models are always admitted: the governor is advisory there, not a gate.
func (s *Service) Admit(ctx context.Context, modelID string, estimatedTokens int64) governordomain.Decision {
	policy, ok := s.catalog.Get().Lookup(modelID)
	if !ok {
		s.log.Debug("model not in catalog, admitting", zap.String("model_id", modelID))
		return governordomain.Decision{Allowed: true}
	}

	if denied, decision := s.overPerMinuteLimit(ctx, modelID, policy); denied {
		return decision
	}

	day := s.clock.Now().UTC().Format(dayLayout)
	counter, err := s.loadCounter(ctx, modelID, day)
	if err != nil {
		// Availability over perfect accounting: a store outage must not
		// stall generation.
		s.log.Warn("counter read failed, admitting",
			zap.String("model_id", modelID),
			zap.Error(err),
		)
		return governordomain.Decision{Allowed: true}
	}

	if policy.TokensPerDay > 0 && counter.TokenCount+estimatedTokens > policy.TokensPerDay {
		return deny(governordomain.ReasonTokenCeiling)
	}

	marginalCost := float64(estimatedTokens) / 1000 * policy.UnitPricePer1K
	if policy.DailyCostCeiling > 0 && counter.EstimatedCostUnits+marginalCost > policy.DailyCostCeiling {
		return deny(governordomain.ReasonCostCeiling)
	}

	if err := s.bookCall(ctx, modelID, day, estimatedTokens, marginalCost); err != nil {
		s.log.Warn("counter persistence failed",
			zap.String("model_id", modelID),
			zap.String("day", day),
			zap.Error(err),
		)
	}

	return governordomain.Decision{Allowed: true}
}

func (s *Service) overPerMinuteLimit(ctx context.Context, modelID string, policy config.ModelPolicy) (bool, governordomain.Decision) {
	if s.bucket == nil || policy.RequestsPerMin <= 0 {
		return false, governordomain.Decision{}
	}

	key := fmt.Sprintf("governor:rpm:%s", modelID)
	burst := int(math.Ceil(policy.RequestsPerMin))
	res, err := s.bucket.Allow(ctx, key, policy.RequestsPerMin/60, burst)
	if err != nil {
		s.log.Warn("rate limiter unavailable, admitting",
			zap.String("model_id", modelID),
			zap.Error(err),
		)
		return false, governordomain.Decision{}
	}
	if !res.Allowed {
		return true, deny(governordomain.ReasonRateLimited)
	}
	return false, governordomain.Decision{}
}

func (s *Service) loadCounter(ctx context.Context, modelID, day string) (governordomain.UsageCounter, error) {
	var counter governordomain.UsageCounter
	err := s.db.WithContext(ctx).
		Where("model_id = ? AND day = ?", modelID, day).
		Limit(1).
		Find(&counter).Error
	return counter, err
}

func (s *Service) bookCall(ctx context.Context, modelID, day string, tokens int64, cost float64) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).
		Clauses(gormclause.OnConflict{
			Columns: []gormclause.Column{{Name: "model_id"}, {Name: "day"}},
			DoUpdates: gormclause.Assignments(map[string]interface{}{
				"request_count":        gorm.Expr("request_count + 1"),
				"token_count":          gorm.Expr("token_count + ?", tokens),
				"estimated_cost_units": gorm.Expr("estimated_cost_units + ?", cost),
				"updated_at":           now,
			}),
		}).
		Create(&governordomain.UsageCounter{
			ModelID:            modelID,
			Day:                day,
			RequestCount:       1,
			TokenCount:         tokens,
			EstimatedCostUnits: cost,
			CreatedAt:          now,
			UpdatedAt:          now,
		}).Error
}

func deny(reason string) governordomain.Decision {
	return governordomain.Decision{
		Allowed:           false,
		Reason:            reason,
		RetryAfterSeconds: governordomain.RetryAfterSeconds,
	}
}
