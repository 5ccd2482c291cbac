// Package domain defines the content types the orchestrator can produce.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Action enumerates the supported content types.
type Action string

const (
	ActionSprintPlan    Action = "sprint_plan"
	ActionAutomationKit Action = "automation_kit"
	ActionAuditPack     Action = "audit_pack"
)

func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionSprintPlan, ActionAutomationKit, ActionAuditPack:
		return Action(raw), true
	default:
		return "", false
	}
}

// Section is one titled unit of generated content.
type Section struct {
	Name        string
	Title       string
	Content     string
	GeneratedAt time.Time
}

// Result is the orchestrator's output for one generation request.
type Result struct {
	Title           string
	PersonalizedFor string
	Sections        []Section
	ProviderUsed    string
	GeneratedAt     time.Time
}

type Service interface {
	Generate(ctx context.Context, action Action, inputs map[string]string) (*Result, error)
}

var ErrUnknownAction = errors.New("unknown_action")

// ProviderUnavailableError means both generation backends failed for a
// request that cannot degrade partially. It carries both underlying
// messages for the audit trail.
type ProviderUnavailableError struct {
	PrimaryErr   string
	SecondaryErr string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("all providers unavailable (primary: %s; secondary: %s)", e.PrimaryErr, e.SecondaryErr)
}
