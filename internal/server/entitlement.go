package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/planforge/planforge/internal/entitlement/domain"
	"go.uber.org/zap"
)

type entitlementCheckRequest struct {
	IdentityToken string `json:"identityToken"`
	Action        string `json:"action"`
	Increment     bool   `json:"increment"`
}

type entitlementCheckResponse struct {
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason,omitempty"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

// CheckEntitlement answers whether an identity may perform a metered action.
// When increment is set and access is granted, the call also books one unit
// of consumption.
func (s *Server) CheckEntitlement(c *gin.Context) {
	var req entitlementCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	identity := strings.TrimSpace(req.IdentityToken)
	if identity == "" {
		AbortWithError(c, entitlementdomain.ErrInvalidIdentity)
		return
	}

	action, ok := entitlementdomain.ParseAction(req.Action)
	if !ok {
		AbortWithError(c, entitlementdomain.ErrInvalidAction)
		return
	}

	decision, err := s.entitlements.CheckAccess(c.Request.Context(), identity, action)
	if err != nil {
		s.log.Error("entitlement check failed", zap.Error(err))
		AbortWithError(c, ErrInternal)
		return
	}

	if decision.Allowed && req.Increment {
		if err := s.entitlements.RecordUsage(c.Request.Context(), identity, action); err != nil {
			s.log.Warn("usage recording failed", zap.Error(err))
		}
	}

	status := http.StatusOK
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.EntitlementDenials.Inc()
		}
		status = http.StatusForbidden
	}
	c.JSON(status, entitlementCheckResponse{
		Allowed:   decision.Allowed,
		Reason:    decision.Reason,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	})
}

type trialGrantRequest struct {
	IdentityToken string    `json:"identityToken"`
	SKUID         string    `json:"skuId"`
	GrantKey      string    `json:"grantKey"`
	ExpiresAt     time.Time `json:"expiresAt"`
	UsageLimit    int       `json:"usageLimit"`
}

// GrantTrial provisions a trial entitlement on behalf of the purchase
// collaborator. Redelivered grant keys succeed without creating a second row.
func (s *Server) GrantTrial(c *gin.Context) {
	var req trialGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	err := s.entitlements.GrantTrial(c.Request.Context(), entitlementdomain.TrialGrant{
		Identity:   req.IdentityToken,
		SKUID:      req.SKUID,
		GrantKey:   req.GrantKey,
		ExpiresAt:  req.ExpiresAt,
		UsageLimit: req.UsageLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": true})
}
