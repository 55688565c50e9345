package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/actions"
	"github.com/pagewarden/pagewarden/internal/agent"
	"github.com/pagewarden/pagewarden/internal/browser"
	"github.com/pagewarden/pagewarden/internal/config"
	"github.com/pagewarden/pagewarden/internal/dispatch"
	"github.com/pagewarden/pagewarden/internal/llmclient"
	"github.com/pagewarden/pagewarden/internal/memory"
	"github.com/pagewarden/pagewarden/internal/observability"
	"github.com/pagewarden/pagewarden/internal/planner"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

// newRunCmd creates the `run` command: one task, one browser session, one
// agent run.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"<task>\"",
		Short: "Run a browser task until it completes, fails or is aborted",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("security.allowed_origins", cmd.Flags().Lookup("allow"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			goal := strings.Join(args, " ")
			startURL, _ := cmd.Flags().GetString("url")

			return runTask(ctx, logger, cfg, goal, startURL)
		},
	}

	runCmd.Flags().String("url", "", "URL to open before the first step")
	runCmd.Flags().StringSlice("allow", nil, "allowed origin patterns (e.g. https://example.com, *.example.com)")
	runCmd.Flags().Int("max-steps", 100, "maximum number of steps before the run stops")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	return runCmd
}

func runTask(ctx context.Context, logger *zap.Logger, cfg *config.Config, goal, startURL string) error {
	// Security layer first: nothing else is built until the allow-list and
	// secret bindings validate.
	policy, err := security.NewPolicy(logger, cfg.Security.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("invalid allow-list: %w", err)
	}
	if len(cfg.Security.Secrets) > 0 {
		if err := policy.Bind(cfg.Security.Secrets); err != nil {
			return fmt.Errorf("invalid secret bindings: %w", err)
		}
	}

	mainModel, err := llmclient.NewModel(cfg.LLM.Main, logger)
	if err != nil {
		return fmt.Errorf("main model: %w", err)
	}
	fastCfg := cfg.LLM.Fast
	if fastCfg.Model == "" {
		fastCfg = cfg.LLM.Main
	}
	fastModel, err := llmclient.NewModel(fastCfg, logger)
	if err != nil {
		return fmt.Errorf("fast model: %w", err)
	}

	reg := registry.New(logger)
	if err := actions.RegisterBuiltins(reg, policy); err != nil {
		return fmt.Errorf("registering actions: %w", err)
	}
	view := reg
	if len(cfg.Agent.ExcludedActions) > 0 {
		view = reg.Exclude(cfg.Agent.ExcludedActions...)
	}

	dispatcher := dispatch.New(logger, view, policy,
		dispatch.WithUserContext(cfg.Agent.UserContext),
		dispatch.WithExtractionModel(fastModel),
		dispatch.WithAvailableResources(cfg.Agent.AvailableResources),
	)

	session, err := browser.NewSession(ctx, logger, cfg.Browser)
	if err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	defer session.Close(context.Background())

	task := schemas.Task{Goal: goal}
	if startURL != "" {
		task.InitialCalls = []schemas.ActionCall{
			{Name: "navigate", Args: map[string]any{"url": startURL}},
		}
	}

	opts := agent.Options{
		Task: task,
		Settings: agent.Settings{
			MaxSteps:           cfg.Agent.MaxSteps,
			MaxFailures:        cfg.Agent.MaxFailures,
			RetryDelay:         cfg.Agent.RetryDelay,
			MaxActionsPerStep:  cfg.Agent.MaxActionsPerStep,
			PlannerInterval:    cfg.Agent.PlannerInterval,
			MemoryInterval:     cfg.Agent.MemoryInterval,
			WaitBetweenActions: cfg.Agent.WaitBetweenActions,
		},
		Registry:   view,
		Dispatcher: dispatcher,
		Policy:     policy,
		Session:    session,
		Model:      mainModel,
		Planner:    planner.New(logger, fastModel),
	}
	if cfg.Agent.MemoryInterval > 0 {
		opts.Compactor = memory.New(logger, fastModel)
	}

	a, err := agent.New(logger, opts)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	var state agent.State
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var runErr error
		state, runErr = a.Run(runCtx)
		return runErr
	})
	g.Go(func() error {
		// A signal stops the agent at the next suspension point.
		<-runCtx.Done()
		a.Stop()
		return nil
	})

	runErr := g.Wait()
	report(logger, a, state)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// report logs the run outcome and the final result content.
func report(logger *zap.Logger, a *agent.Agent, state agent.State) {
	records := a.History()
	logger.Info("Run complete",
		zap.String("state", string(state)),
		zap.Int("records", len(records)))

	if len(records) == 0 {
		return
	}
	last := records[len(records)-1]
	for _, result := range last.Results {
		if result.Content != "" {
			fmt.Println(result.Content)
		}
	}
}
