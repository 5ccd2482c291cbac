package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/clock"
	governordomain "github.com/planforge/planforge/internal/governor/domain"
	"github.com/planforge/planforge/internal/llm"
	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type completerStub struct {
	name  string
	model string
	reply string
	err   error
	calls int
}

func (c *completerStub) Name() string    { return c.name }
func (c *completerStub) ModelID() string { return c.model }

func (c *completerStub) Complete(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type governorStub struct {
	denyModels map[string]string
	admitted   []string
}

func (g *governorStub) Admit(_ context.Context, modelID string, _ int64) governordomain.Decision {
	g.admitted = append(g.admitted, modelID)
	if reason, ok := g.denyModels[modelID]; ok {
		return governordomain.Decision{Allowed: false, Reason: reason}
	}
	return governordomain.Decision{Allowed: true}
}

func newTestService(primary, secondary *completerStub, gov *governorStub) orchestratordomain.Service {
	if gov == nil {
		gov = &governorStub{}
	}
	return NewService(ServiceParam{
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		Governor: gov,
		Providers: llm.Providers{
			Primary:   primary,
			Secondary: secondary,
		},
	})
}

const planReply = `Week 1
Day 1
Focus: Stabilize intake
Tasks: Audit inbox
Deliverable: Single channel live
Time: 2 hours
Blockers: None expected

Week 2
Day 1
Focus: Automate follow-ups
`

func TestGeneratePlanSplitsWeeksIntoSections(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", reply: planReply}
	secondary := &completerStub{name: "openai", model: "gpt-4o"}
	svc := newTestService(primary, secondary, nil)

	result, err := svc.Generate(context.Background(), orchestratordomain.ActionSprintPlan, map[string]string{
		"name":     "Ana",
		"business": "bakery",
	})
	require.NoError(t, err)

	assert.Equal(t, "Your 30-Day Sprint Plan", result.Title)
	assert.Equal(t, "Ana", result.PersonalizedFor)
	assert.Equal(t, "anthropic", result.ProviderUsed)
	require.Len(t, result.Sections, 2)
	assert.Equal(t, "week_1", result.Sections[0].Name)
	assert.Equal(t, "Week 1", result.Sections[0].Title)
	assert.Contains(t, result.Sections[0].Content, "Focus: Stabilize intake")
	assert.Equal(t, "week_2", result.Sections[1].Name)
	assert.Equal(t, 0, secondary.calls)
}

func TestGeneratePlanUnparseableOutputShipsRaw(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", reply: "Just do the most important thing first.\n"}
	svc := newTestService(primary, &completerStub{name: "openai", model: "gpt-4o"}, nil)

	result, err := svc.Generate(context.Background(), orchestratordomain.ActionSprintPlan, nil)
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	assert.Equal(t, "plan", result.Sections[0].Name)
	assert.Equal(t, "Just do the most important thing first.", result.Sections[0].Content)
}

func TestGenerateFallsBackToSecondary(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", err: errors.New("status 529")}
	secondary := &completerStub{name: "openai", model: "gpt-4o", reply: planReply}
	svc := newTestService(primary, secondary, nil)

	result, err := svc.Generate(context.Background(), orchestratordomain.ActionSprintPlan, nil)
	require.NoError(t, err)

	assert.Equal(t, "openai", result.ProviderUsed)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestGenerateBothProvidersFail(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", err: errors.New("status 529")}
	secondary := &completerStub{name: "openai", model: "gpt-4o", err: errors.New("connection refused")}
	svc := newTestService(primary, secondary, nil)

	_, err := svc.Generate(context.Background(), orchestratordomain.ActionSprintPlan, nil)

	var provErr *orchestratordomain.ProviderUnavailableError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.PrimaryErr, "529")
	assert.Contains(t, provErr.SecondaryErr, "connection refused")
}

func TestGenerateGovernorDenialTriggersFallback(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", reply: planReply}
	secondary := &completerStub{name: "openai", model: "gpt-4o", reply: planReply}
	gov := &governorStub{denyModels: map[string]string{
		"claude-sonnet-4-20250514": governordomain.ReasonRateLimited,
	}}
	svc := newTestService(primary, secondary, gov)

	result, err := svc.Generate(context.Background(), orchestratordomain.ActionSprintPlan, nil)
	require.NoError(t, err)

	assert.Equal(t, "openai", result.ProviderUsed)
	assert.Equal(t, 0, primary.calls, "denied provider must not be called")
	assert.Equal(t, 1, secondary.calls)
}

func TestGeneratePackFailedSectionGetsPlaceholder(t *testing.T) {
	primary := &completerStub{name: "anthropic", model: "claude-sonnet-4-20250514", err: errors.New("status 500")}
	secondary := &completerStub{name: "openai", model: "gpt-4o", reply: "Section body."}
	svc := newTestService(primary, secondary, nil)

	// Exhaust the secondary after three sections so the remaining two
	// degrade to placeholders.
	remaining := 3
	exhaustible := &exhaustibleCompleter{inner: secondary, remaining: &remaining}
	svc = NewService(ServiceParam{
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		Governor: &governorStub{},
		Providers: llm.Providers{
			Primary:   primary,
			Secondary: exhaustible,
		},
	})

	result, err := svc.Generate(context.Background(), orchestratordomain.ActionAutomationKit, nil)
	require.NoError(t, err)
	require.Len(t, result.Sections, 5)

	assert.Equal(t, "quick_wins", result.Sections[0].Name)
	assert.Equal(t, "Quick Wins", result.Sections[0].Title)
	assert.Equal(t, "Section body.", result.Sections[0].Content)
	assert.Contains(t, result.Sections[3].Content, "could not be generated")
	assert.Contains(t, result.Sections[4].Content, "could not be generated")
	assert.Equal(t, "openai", result.ProviderUsed)
}

func TestGenerateUnknownAction(t *testing.T) {
	svc := newTestService(&completerStub{}, &completerStub{}, nil)

	_, err := svc.Generate(context.Background(), orchestratordomain.Action("newsletter"), nil)
	assert.ErrorIs(t, err, orchestratordomain.ErrUnknownAction)
}

type exhaustibleCompleter struct {
	inner     *completerStub
	remaining *int
}

func (e *exhaustibleCompleter) Name() string    { return e.inner.Name() }
func (e *exhaustibleCompleter) ModelID() string { return e.inner.ModelID() }

func (e *exhaustibleCompleter) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if *e.remaining <= 0 {
		return "", errors.New("status 429")
	}
	*e.remaining--
	return e.inner.Complete(ctx, system, user, maxTokens, temperature)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "templates_and_scripts", slugify("Templates & Scripts"))
	assert.Equal(t, "90_day_roadmap", slugify("90-Day Roadmap"))
	assert.Equal(t, "executive_summary", slugify("Executive Summary"))
}
