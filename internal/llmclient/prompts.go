package llmclient

import (
	"fmt"
	"strings"

	"github.com/pagewarden/pagewarden/api/schemas"
)

// decisionSystemPrompt instructs the model to answer with the decision JSON
// shape, at most maxCalls actions per step.
func decisionSystemPrompt(maxCalls int) string {
	if maxCalls <= 0 {
		maxCalls = 10
	}
	return fmt.Sprintf(`You are a browser automation agent. Each step you receive the task, the
current page and the actions you may call. Respond with JSON only:

{"thought": "<your reasoning for this step>", "actions": [{"name": "<action>", "args": {...}}]}

Rules:
- Propose at most %d actions per step.
- Only call actions from the provided list, with their declared arguments.
- When the task is complete (or cannot be completed), call the "done" action.
- "done" must be the only action in its step.
- Placeholders like <secret>name</secret> stand in for credentials. Use them
  verbatim; never ask for or guess the underlying value.`, maxCalls)
}

// decisionUserPrompt renders one step's context block.
func decisionUserPrompt(req schemas.DecideRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task\n%s\n", req.Task)
	if req.Plan != "" {
		fmt.Fprintf(&b, "\n## Current plan\n%s\n", req.Plan)
	}
	if req.History != "" {
		fmt.Fprintf(&b, "\n## Previous steps\n%s\n", req.History)
	}

	fmt.Fprintf(&b, "\n## Current page\nURL: %s\nTitle: %s\n", req.Snapshot.URL, req.Snapshot.Title)
	if req.Snapshot.Content != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Snapshot.Content)
	}
	if len(req.Snapshot.Elements) > 0 {
		b.WriteString("\nInteractive elements:\n")
		for _, el := range req.Snapshot.Elements {
			fmt.Fprintf(&b, "[%d] <%s> %s (selector: %s)\n", el.Index, el.Tag, el.Text, el.Selector)
		}
	}

	fmt.Fprintf(&b, "\n## Available actions\n%s\n", req.Actions)
	return b.String()
}
