// Package actions provides the builtin capability set every agent starts
// with: navigation, element interaction, waiting, content extraction and the
// terminal done action. Callers register the set once and may layer
// task-specific descriptors on top.
package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

const (
	// maxWaitSeconds caps the wait action so a confused model cannot stall
	// the run indefinitely.
	maxWaitSeconds = 30

	// extractionPrompt instructs the extraction model. The page HTML and
	// goal are appended by the handler.
	extractionPrompt = "You extract information from web pages. Answer the extraction goal using only the page content provided. Be concise and factual."
)

// RegisterBuiltins adds the standard action set to the registry. The policy
// gates navigation targets; it is the same policy the dispatcher enforces for
// the current location.
func RegisterBuiltins(reg *registry.Registry, policy *security.Policy) error {
	for _, d := range builtins(policy) {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func builtins(policy *security.Policy) []*registry.Descriptor {
	return []*registry.Descriptor{
		{
			Name:        "navigate",
			Description: "Navigate the browser to a URL",
			Params: []registry.Parameter{
				{Name: "url", Type: registry.ParamString, Required: true, Description: "Absolute URL to open"},
			},
			Injects: []string{registry.InjectSession, registry.InjectLocation},
			Handler: navigateHandler(policy),
		},
		{
			Name:        "go_back",
			Description: "Go back to the previous page",
			Injects:     []string{registry.InjectSession},
			Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
				if err := inv.Session.Back(ctx); err != nil {
					return schemas.ActionResult{}, fmt.Errorf("back navigation failed: %w", err)
				}
				return schemas.ActionResult{Content: "Navigated back"}, nil
			},
		},
		{
			Name:        "click_element",
			Description: "Click an element identified by CSS selector",
			Params: []registry.Parameter{
				{Name: "selector", Type: registry.ParamString, Required: true, Description: "CSS selector of the element"},
			},
			Injects: []string{registry.InjectSession},
			Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
				selector := inv.String("selector")
				if err := inv.Session.Click(ctx, selector); err != nil {
					return schemas.ActionResult{}, fmt.Errorf("click on %q failed: %w", selector, err)
				}
				return schemas.ActionResult{Content: fmt.Sprintf("Clicked element %q", selector)}, nil
			},
		},
		{
			Name:        "input_text",
			Description: "Type text into an input element identified by CSS selector",
			Params: []registry.Parameter{
				{Name: "selector", Type: registry.ParamString, Required: true, Description: "CSS selector of the input"},
				{Name: "text", Type: registry.ParamString, Required: true, Description: "Text to type"},
			},
			Injects: []string{registry.InjectSession, registry.InjectHasSecrets},
			Handler: inputTextHandler,
		},
		{
			Name:        "scroll",
			Description: "Scroll the page up or down",
			Params: []registry.Parameter{
				{Name: "direction", Type: registry.ParamString, Default: "down", Description: "\"up\" or \"down\""},
			},
			Injects: []string{registry.InjectSession},
			Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
				direction := inv.String("direction")
				if direction != "up" && direction != "down" {
					return schemas.ActionResult{}, fmt.Errorf("unknown scroll direction %q", direction)
				}
				if err := inv.Session.Scroll(ctx, direction); err != nil {
					return schemas.ActionResult{}, fmt.Errorf("scroll failed: %w", err)
				}
				return schemas.ActionResult{Content: "Scrolled " + direction}, nil
			},
		},
		{
			Name:        "wait",
			Description: "Wait for the page to settle",
			Params: []registry.Parameter{
				{Name: "seconds", Type: registry.ParamInteger, Default: 3, Description: "Seconds to wait, at most 30"},
			},
			Handler: waitHandler,
		},
		{
			Name:        "extract_content",
			Description: "Extract information from the current page matching a goal",
			Params: []registry.Parameter{
				{Name: "goal", Type: registry.ParamString, Required: true, Description: "What to extract, e.g. \"all product prices\""},
			},
			Injects: []string{registry.InjectSession, registry.InjectExtractionModel},
			Handler: extractContentHandler,
		},
		{
			Name:        "done",
			Description: "Finish the task, reporting success or failure and the final answer",
			Params: []registry.Parameter{
				{Name: "success", Type: registry.ParamBoolean, Required: true, Description: "Whether the task was accomplished"},
				{Name: "text", Type: registry.ParamString, Required: true, Description: "Final answer or failure explanation"},
			},
			Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
				return schemas.ActionResult{
					Content: inv.String("text"),
					Done:    true,
					Success: inv.Bool("success"),
				}, nil
			},
		},
	}
}

// navigateHandler gates the target URL against the allow-list before the
// browser moves. The dispatcher only checks the current location; the target
// of a navigation has to be checked here.
func navigateHandler(policy *security.Policy) registry.Handler {
	return func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
		target := inv.String("url")
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return schemas.ActionResult{}, fmt.Errorf("navigation target %q is not an absolute http(s) URL", target)
		}
		if !policy.Allowed(target) {
			return schemas.ActionResult{}, &security.ViolationError{
				Op:       "navigate",
				Subject:  target,
				Location: inv.Location,
			}
		}
		if err := inv.Session.Navigate(ctx, target); err != nil {
			return schemas.ActionResult{}, fmt.Errorf("navigation to %s failed: %w", target, err)
		}
		return schemas.ActionResult{Content: "Navigated to " + target}, nil
	}
}

// inputTextHandler types the (already substituted) text. When the location
// has bound secrets the typed value is never echoed into the result.
func inputTextHandler(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
	selector := inv.String("selector")
	text := inv.String("text")
	if err := inv.Session.TypeText(ctx, selector, text); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	if inv.HasSecrets {
		return schemas.ActionResult{Content: fmt.Sprintf("Entered text into %q", selector)}, nil
	}
	return schemas.ActionResult{Content: fmt.Sprintf("Entered %q into %q", text, selector)}, nil
}

func waitHandler(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
	seconds := inv.Int("seconds")
	if seconds < 0 {
		return schemas.ActionResult{}, fmt.Errorf("wait duration must not be negative")
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return schemas.ActionResult{}, ctx.Err()
	}
	return schemas.ActionResult{Content: fmt.Sprintf("Waited %d seconds", seconds)}, nil
}

// extractContentHandler feeds the page HTML and the extraction goal to the
// extraction model. Results are flagged for long-term memory so they survive
// history compaction.
func extractContentHandler(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
	if inv.ExtractionModel == nil {
		return schemas.ActionResult{}, fmt.Errorf("no extraction model configured")
	}
	html, err := inv.Session.ExtractHTML(ctx)
	if err != nil {
		return schemas.ActionResult{}, fmt.Errorf("reading page content failed: %w", err)
	}
	goal := inv.String("goal")
	answer, err := inv.ExtractionModel.Generate(ctx, schemas.GenerateRequest{
		System: extractionPrompt,
		Prompt: fmt.Sprintf("Extraction goal: %s\n\nPage content:\n%s", goal, html),
	})
	if err != nil {
		return schemas.ActionResult{}, fmt.Errorf("extraction failed: %w", err)
	}
	return schemas.ActionResult{
		Content:        fmt.Sprintf("Extracted content for %q:\n%s", goal, answer),
		LongTermMemory: true,
	}, nil
}
