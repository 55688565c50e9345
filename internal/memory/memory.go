// Package memory keeps long runs inside the model's context window by
// folding old step records into a text summary on the orchestrator's memory
// cadence.
package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
)

const systemPrompt = `You compress the history of a browser automation run. Summarize the steps
into a short paragraph preserving: what was accomplished, key facts found on
pages, and any errors worth remembering. Respond with the summary only.`

// LLMCompactor implements schemas.Compactor on top of a text generation
// model, typically the fast tier.
type LLMCompactor struct {
	logger *zap.Logger
	model  schemas.Model
}

func New(logger *zap.Logger, model schemas.Model) *LLMCompactor {
	return &LLMCompactor{
		logger: logger.Named("memory"),
		model:  model,
	}
}

// Compact summarizes the given records into one paragraph.
func (c *LLMCompactor) Compact(ctx context.Context, records []schemas.StepRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("nothing to compact")
	}
	summary, err := c.model.Generate(ctx, schemas.GenerateRequest{
		System: systemPrompt,
		Prompt: buildPrompt(records),
	})
	if err != nil {
		return "", fmt.Errorf("history compaction failed: %w", err)
	}
	c.logger.Debug("History summarized", zap.Int("records", len(records)))
	return strings.TrimSpace(summary), nil
}

func buildPrompt(records []schemas.StepRecord) string {
	var b strings.Builder
	b.WriteString("## Run history\n")
	for _, r := range records {
		fmt.Fprintf(&b, "Step %d: %s\n", r.Step+1, r.Thought)
		for i, call := range r.Calls {
			fmt.Fprintf(&b, "  %s", call.Name)
			if i < len(r.Results) {
				res := r.Results[i]
				if res.IsError() {
					fmt.Fprintf(&b, " -> failed: %s", res.Error)
				} else if res.Content != "" {
					fmt.Fprintf(&b, " -> %s", res.Content)
				}
			}
			b.WriteString("\n")
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  step error: %s\n", r.Error)
		}
	}
	return b.String()
}
