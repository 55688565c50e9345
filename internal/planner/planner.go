// Package planner produces the high-level plan the orchestrator refreshes on
// its planner cadence. The plan is advisory text the decision model sees each
// step; it never executes anything itself.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
)

const systemPrompt = `You are the planning module of a browser automation agent. Given the task
and the steps taken so far, produce a short numbered plan for what remains.
Note anything that appears to be going wrong and how to recover. Respond with
the plan text only.`

// LLMPlanner implements schemas.Planner on top of a text generation model,
// typically the fast tier.
type LLMPlanner struct {
	logger *zap.Logger
	model  schemas.Model
}

func New(logger *zap.Logger, model schemas.Model) *LLMPlanner {
	return &LLMPlanner{
		logger: logger.Named("planner"),
		model:  model,
	}
}

// Plan summarizes progress and proposes next moves.
func (p *LLMPlanner) Plan(ctx context.Context, task string, records []schemas.StepRecord) (string, error) {
	plan, err := p.model.Generate(ctx, schemas.GenerateRequest{
		System: systemPrompt,
		Prompt: buildPrompt(task, records),
	})
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	p.logger.Debug("Plan refreshed", zap.Int("records", len(records)))
	return strings.TrimSpace(plan), nil
}

func buildPrompt(task string, records []schemas.StepRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n", task)

	if len(records) == 0 {
		b.WriteString("\nNo steps taken yet.\n")
		return b.String()
	}

	b.WriteString("\n## Steps so far\n")
	for _, r := range records {
		fmt.Fprintf(&b, "Step %d: %s\n", r.Step+1, r.Thought)
		for i, call := range r.Calls {
			outcome := "no result"
			if i < len(r.Results) {
				if r.Results[i].IsError() {
					outcome = "failed: " + r.Results[i].Error
				} else {
					outcome = "ok"
				}
			}
			fmt.Fprintf(&b, "  %s -> %s\n", call.Name, outcome)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  step error: %s\n", r.Error)
		}
	}
	return b.String()
}
