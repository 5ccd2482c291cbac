package service

import (
	"fmt"
	"sort"
	"strings"

	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
)

type promptPair struct {
	system string
	user   string
}

type actionSpec struct {
	title       string
	maxTokens   int
	temperature float64
	// sections is the fixed ordered list for pack-style actions; empty
	// means a single-call action whose output is parsed into a plan.
	sections []string
}

var actionSpecs = map[orchestratordomain.Action]actionSpec{
	orchestratordomain.ActionSprintPlan: {
		title:       "Your 30-Day Sprint Plan",
		maxTokens:   4000,
		temperature: 0.7,
	},
	orchestratordomain.ActionAutomationKit: {
		title:       "Your Automation Kit",
		maxTokens:   2000,
		temperature: 0.6,
		sections: []string{
			"Quick Wins",
			"Workflow Map",
			"Tool Stack",
			"Templates & Scripts",
			"Rollout Checklist",
		},
	},
	orchestratordomain.ActionAuditPack: {
		title:       "Your Strategic Audit",
		maxTokens:   2000,
		temperature: 0.5,
		sections: []string{
			"Executive Summary",
			"Current State Assessment",
			"Gap Analysis",
			"Prioritized Recommendations",
			"90-Day Roadmap",
		},
	},
}

const plannerSystemPrompt = `You are a senior operations strategist. You produce concrete,
personalized plans for small business owners. Structure every plan as:

Week 1
Day 1
Focus: <one line>
Tasks: <semicolon-separated concrete tasks>
Deliverable: <what exists at end of day>
Time: <estimated hours>
Blockers: <likely obstacle and mitigation>

Repeat for each day and week. No preamble, no closing remarks.`

const packSystemPrompt = `You are a senior operations strategist writing one section of a paid
strategy deliverable. Write polished, specific, immediately actionable prose for the
section you are asked for. Use **bold** for key terms. No preamble.`

func planPrompt(inputs map[string]string) promptPair {
	return promptPair{
		system: plannerSystemPrompt,
		user: fmt.Sprintf(
			"Create a 30-day sprint plan.\n\nBusiness context:\n%s\n\nCover four weeks, most important work first.",
			formatInputs(inputs),
		),
	}
}

func sectionPrompt(action orchestratordomain.Action, sectionName string, inputs map[string]string) promptPair {
	return promptPair{
		system: packSystemPrompt,
		user: fmt.Sprintf(
			"Deliverable: %s\nSection to write: %s\n\nBusiness context:\n%s",
			actionSpecs[action].title,
			sectionName,
			formatInputs(inputs),
		),
	}
}

func formatInputs(inputs map[string]string) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := strings.TrimSpace(inputs[k])
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), v)
	}
	if b.Len() == 0 {
		return "- (no additional context provided)\n"
	}
	return b.String()
}
