package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/planforge/planforge/internal/clock"
	governordomain "github.com/planforge/planforge/internal/governor/domain"
	"github.com/planforge/planforge/internal/llm"
	llmdomain "github.com/planforge/planforge/internal/llm/domain"
	"github.com/planforge/planforge/internal/metrics"
	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const placeholderSection = `This section could not be generated right now. Our team has been
notified and will send you the completed section within one business day. If you have
questions in the meantime, write to support@planforge.io with your order reference.`

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Governor  governordomain.Service
	Providers llm.Providers
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	governor  governordomain.Service
	providers llm.Providers
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) orchestratordomain.Service {
	return &Service{
		log:       p.Log.Named("orchestrator.service"),
		clock:     p.Clock,
		governor:  p.Governor,
		providers: p.Providers,
		metrics:   p.Metrics,
	}
}

func (s *Service) Generate(ctx context.Context, action orchestratordomain.Action, inputs map[string]string) (*orchestratordomain.Result, error) {
	spec, ok := actionSpecs[action]
	if !ok {
		return nil, orchestratordomain.ErrUnknownAction
	}

	result := &orchestratordomain.Result{
		Title:           spec.title,
		PersonalizedFor: strings.TrimSpace(inputs["name"]),
		GeneratedAt:     s.clock.Now().UTC(),
	}

	if len(spec.sections) == 0 {
		return s.generatePlan(ctx, action, spec, inputs, result)
	}
	return s.generatePack(ctx, action, spec, inputs, result)
}

func (s *Service) generatePlan(ctx context.Context, action orchestratordomain.Action, spec actionSpec, inputs map[string]string, result *orchestratordomain.Result) (*orchestratordomain.Result, error) {
	text, providerUsed, err := s.complete(ctx, planPrompt(inputs), spec)
	if err != nil {
		return nil, err
	}
	result.ProviderUsed = providerUsed

	weeks := parsePlan(text)
	if len(weeks) == 0 {
		// Unparseable output still ships: the raw text becomes the plan.
		result.Sections = []orchestratordomain.Section{{
			Name:        "plan",
			Title:       spec.title,
			Content:     strings.TrimSpace(text),
			GeneratedAt: result.GeneratedAt,
		}}
		return result, nil
	}

	for i, week := range weeks {
		result.Sections = append(result.Sections, orchestratordomain.Section{
			Name:        fmt.Sprintf("week_%d", i+1),
			Title:       week.Label,
			Content:     renderWeek(week),
			GeneratedAt: result.GeneratedAt,
		})
	}
	return result, nil
}

// generatePack issues one provider call per named section, sequentially to
// keep governor accounting deterministic. One failed section degrades to a
// placeholder instead of failing the pack.
func (s *Service) generatePack(ctx context.Context, action orchestratordomain.Action, spec actionSpec, inputs map[string]string, result *orchestratordomain.Result) (*orchestratordomain.Result, error) {
	for _, name := range spec.sections {
		content, providerUsed, err := s.complete(ctx, sectionPrompt(action, name, inputs), spec)
		if err != nil {
			s.log.Error("section generation failed, using placeholder",
				zap.String("action", string(action)),
				zap.String("section", name),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.SectionFailures.Inc()
			}
			content = placeholderSection
		} else {
			result.ProviderUsed = providerUsed
		}

		result.Sections = append(result.Sections, orchestratordomain.Section{
			Name:        slugify(name),
			Title:       name,
			Content:     strings.TrimSpace(content),
			GeneratedAt: result.GeneratedAt,
		})
	}
	return result, nil
}

// complete runs one logical completion: governor-gated primary call, then a
// transparent retry on the secondary. Only a double failure surfaces.
func (s *Service) complete(ctx context.Context, prompt promptPair, spec actionSpec) (string, string, error) {
	primaryErr := s.tryProvider(ctx, s.providers.Primary, prompt, spec)
	if primaryErr.err == nil {
		return primaryErr.text, s.providers.Primary.Name(), nil
	}

	s.log.Warn("primary provider failed, falling back",
		zap.String("provider", s.providers.Primary.Name()),
		zap.Error(primaryErr.err),
	)
	if s.metrics != nil {
		s.metrics.ProviderFallbacks.Inc()
	}

	secondaryErr := s.tryProvider(ctx, s.providers.Secondary, prompt, spec)
	if secondaryErr.err == nil {
		return secondaryErr.text, s.providers.Secondary.Name(), nil
	}

	return "", "", &orchestratordomain.ProviderUnavailableError{
		PrimaryErr:   primaryErr.err.Error(),
		SecondaryErr: secondaryErr.err.Error(),
	}
}

type attempt struct {
	text string
	err  error
}

func (s *Service) tryProvider(ctx context.Context, provider llmdomain.Completer, prompt promptPair, spec actionSpec) attempt {
	estimated := estimateTokens(prompt, spec.maxTokens)
	decision := s.governor.Admit(ctx, provider.ModelID(), estimated)
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.GovernorDenials.Inc()
		}
		return attempt{err: fmt.Errorf("governor denied model %s: %s", provider.ModelID(), decision.Reason)}
	}

	text, err := provider.Complete(ctx, prompt.system, prompt.user, spec.maxTokens, spec.temperature)
	if err != nil {
		return attempt{err: err}
	}
	return attempt{text: text}
}

// estimateTokens approximates prompt tokens at four characters each, plus
// the response budget.
func estimateTokens(prompt promptPair, maxTokens int) int64 {
	return int64((len(prompt.system)+len(prompt.user))/4 + maxTokens)
}

// slugify turns a section title into a stable snake_case name.
func slugify(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}
