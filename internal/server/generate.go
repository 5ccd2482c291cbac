package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/planforge/planforge/internal/document"
	entitlementdomain "github.com/planforge/planforge/internal/entitlement/domain"
	entitlementservice "github.com/planforge/planforge/internal/entitlement/service"
	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
	recorddomain "github.com/planforge/planforge/internal/record/domain"
	"go.uber.org/zap"
)

type deliveryOptions struct {
	IncludeDocument  bool `json:"includeDocument"`
	SendNotification bool `json:"sendNotification"`
}

type generateRequest struct {
	RequestedAction string            `json:"requestedAction"`
	UserInputs      map[string]string `json:"userInputs"`
	DeliveryOptions *deliveryOptions  `json:"deliveryOptions"`
}

type sectionPayload struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type documentPayload struct {
	Available bool `json:"available"`
	SizeBytes int  `json:"sizeBytes,omitempty"`
}

type generateResponse struct {
	Success  bool                      `json:"success"`
	Title    string                    `json:"title"`
	Sections map[string]sectionPayload `json:"sections"`
	Document *documentPayload          `json:"document,omitempty"`
	Notified *bool                     `json:"notified,omitempty"`
	Warnings []string                  `json:"warnings,omitempty"`
}

type denialResponse struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason"`
	ResetAt    *time.Time `json:"resetAt,omitempty"`
	UpgradeURL string     `json:"upgradeUrl,omitempty"`
}

const upgradeURL = "https://planforge.io/pro"

// Generate drives the whole pipeline: entitlement gate, provider
// orchestration, document assembly, delivery, then usage recording. Usage is
// booked only after content is produced so failed attempts are never charged.
func (s *Server) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	action, ok := orchestratordomain.ParseAction(req.RequestedAction)
	if !ok {
		AbortWithError(c, newValidationError("requestedAction", "invalid_action", "unsupported content type"))
		return
	}

	identity := strings.TrimSpace(req.UserInputs["email"])
	if identity == "" {
		AbortWithError(c, newValidationError("userInputs.email", "required", "email is required"))
		return
	}

	meterAction := meterActionFor(action)
	decision, err := s.entitlements.CheckAccess(c.Request.Context(), identity, meterAction)
	if err != nil {
		s.log.Error("entitlement check failed", zap.Error(err))
		AbortWithError(c, ErrInternal)
		return
	}
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.EntitlementDenials.Inc()
		}
		denial := denialResponse{
			Allowed: false,
			Reason:  decision.Reason,
			ResetAt: decision.ResetAt,
		}
		if decision.Reason == entitlementdomain.ReasonUpgradeRequired {
			denial.UpgradeURL = upgradeURL
		}
		c.JSON(http.StatusForbidden, denial)
		return
	}

	result, err := s.orchestrator.Generate(c.Request.Context(), action, req.UserInputs)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Generations.WithLabelValues(string(action), "failure").Inc()
		}
		AbortWithError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Generations.WithLabelValues(string(action), "success").Inc()
	}

	opts := deliveryOptions{IncludeDocument: true, SendNotification: true}
	if req.DeliveryOptions != nil {
		opts = *req.DeliveryOptions
	}

	resp := generateResponse{
		Success:  true,
		Title:    result.Title,
		Sections: make(map[string]sectionPayload, len(result.Sections)),
	}
	for _, section := range result.Sections {
		resp.Sections[section.Name] = sectionPayload{
			Title:       section.Title,
			Content:     section.Content,
			GeneratedAt: section.GeneratedAt,
		}
	}

	var delivery document.DeliveryResult
	var docSize int
	if opts.IncludeDocument {
		meta := document.Meta{
			Title:           result.Title,
			PersonalizedFor: result.PersonalizedFor,
			GeneratedAt:     result.GeneratedAt,
		}
		artifact, assembleErr := document.Assemble(result.Sections, meta)
		if assembleErr != nil {
			s.log.Error("document assembly failed", zap.Error(assembleErr))
			resp.Document = &documentPayload{Available: false}
			resp.Warnings = append(resp.Warnings, "document rendering failed; your content is included in this response")
		} else {
			docSize = artifact.SizeBytes
			delivery = s.deliverer.Deliver(c.Request.Context(), artifact, meta, identity, opts.SendNotification)
			resp.Document = &documentPayload{Available: delivery.Stored, SizeBytes: artifact.SizeBytes}
			resp.Warnings = append(resp.Warnings, delivery.Warnings...)
			if opts.SendNotification {
				notified := delivery.Notified
				resp.Notified = &notified
			}
		}
	}

	// Content was produced; consumption is booked now, never earlier.
	if err := s.entitlements.RecordUsage(c.Request.Context(), identity, meterAction); err != nil {
		s.log.Warn("usage recording failed", zap.Error(err))
	}

	s.appendRecord(c, identity, action, result, delivery, docSize, len(resp.Warnings))

	c.JSON(http.StatusOK, resp)
}

func (s *Server) appendRecord(c *gin.Context, identity string, action orchestratordomain.Action, result *orchestratordomain.Result, delivery document.DeliveryResult, docSize, warnings int) {
	err := s.records.Append(c.Request.Context(), recorddomain.GenerationRecord{
		IdentityHash:  entitlementservice.HashIdentity(identity),
		Action:        string(action),
		ProviderUsed:  result.ProviderUsed,
		SectionCount:  len(result.Sections),
		DocumentBytes: docSize,
		Stored:        delivery.Stored,
		Notified:      delivery.Notified,
		WarningCount:  warnings,
		Success:       true,
	})
	if err != nil {
		s.log.Warn("generation record append failed", zap.Error(err))
	}
}

// meterActionFor maps a content type onto the metered action that gates it.
func meterActionFor(action orchestratordomain.Action) entitlementdomain.Action {
	switch action {
	case orchestratordomain.ActionSprintPlan:
		return entitlementdomain.ActionRegenerate
	default:
		return entitlementdomain.ActionUtility
	}
}
