// Package agent contains the step orchestrator: the state machine that
// drives planning, action selection, execution and history recording for one
// task against one browser session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/dispatch"
	"github.com/pagewarden/pagewarden/internal/history"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

// Options carries the collaborators and configuration for one agent.
// Registry, Dispatcher, Policy, Session and Model are required; Planner,
// Compactor and the hooks are optional.
type Options struct {
	Task       schemas.Task
	Settings   Settings
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Policy     *security.Policy
	Session    schemas.Session
	Model      schemas.Model
	Planner    schemas.Planner
	Compactor  schemas.Compactor

	OnStepStart Hook
	OnStepEnd   Hook
}

// Agent owns the run loop and all mutable run state. One agent drives one
// session; the registry and policy may be shared read-only with other agents,
// the history store never is.
type Agent struct {
	id         string
	logger     *zap.Logger
	settings   Settings
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	policy     *security.Policy
	session    schemas.Session
	model      schemas.Model
	planner    schemas.Planner
	compactor  schemas.Compactor

	onStepStart Hook
	onStepEnd   Hook

	history *history.Store

	mu                  sync.Mutex
	task                schemas.Task
	state               State
	stepIndex           int
	consecutiveFailures int
	plan                string
	pauseRequested      bool
	stopRequested       bool
	resumed             chan struct{}
}

// New validates the collaborator set and builds an agent in INIT.
func New(logger *zap.Logger, opts Options) (*Agent, error) {
	if opts.Registry == nil || opts.Dispatcher == nil || opts.Policy == nil {
		return nil, fmt.Errorf("registry, dispatcher and policy are required")
	}
	if opts.Session == nil || opts.Model == nil {
		return nil, fmt.Errorf("session and model are required")
	}
	if opts.Task.Goal == "" {
		return nil, fmt.Errorf("task goal must not be empty")
	}

	agentID := uuid.New().String()[:8]
	return &Agent{
		id:          agentID,
		logger:      logger.Named("agent").With(zap.String("agent_id", agentID)),
		settings:    opts.Settings.withDefaults(),
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		policy:      opts.Policy,
		session:     opts.Session,
		model:       opts.Model,
		planner:     opts.Planner,
		compactor:   opts.Compactor,
		onStepStart: opts.OnStepStart,
		onStepEnd:   opts.OnStepEnd,
		history:     history.New(),
		task:        opts.Task,
		state:       StateInit,
		resumed:     make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// StepIndex returns the index of the next step to execute.
func (a *Agent) StepIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stepIndex
}

// Plan returns the most recent planner output.
func (a *Agent) Plan() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan
}

// History returns a copy of the step records accumulated so far. Available
// regardless of how the run ended.
func (a *Agent) History() []schemas.StepRecord {
	return a.history.Records()
}

// Pause requests suspension at the next step boundary. No environment
// mutation happens while paused; accumulated history is retained.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateRunning || a.state == StateInit {
		a.pauseRequested = true
		a.logger.Info("Pause requested")
	}
}

// Resume re-enters the loop at the next step index.
func (a *Agent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseRequested = false
	if a.state == StatePaused {
		close(a.resumed)
		a.resumed = make(chan struct{})
	}
	a.logger.Info("Resume requested")
}

// Stop aborts the run at the next suspension point. A call in flight is
// allowed to finish; no partial action is left half-applied.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopRequested = true
	if a.state == StatePaused {
		close(a.resumed)
		a.resumed = make(chan struct{})
	}
	a.logger.Info("Stop requested")
}

// AddNewTask extends the goal mid-run without resetting history. The model
// sees the full instruction lineage on the next step.
func (a *Agent) AddNewTask(goal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.task.AppendGoal(goal)
	a.logger.Info("Task extended", zap.String("new_goal", goal))
}

// Run executes the task until a terminal state is reached. The returned
// state and the full history are always available, however the run ended.
func (a *Agent) Run(ctx context.Context) (State, error) {
	a.mu.Lock()
	if a.state != StateInit {
		a.mu.Unlock()
		return a.state, fmt.Errorf("agent already ran (state %s)", a.state)
	}
	a.state = StateRunning
	task := a.task
	a.mu.Unlock()

	a.logger.Info("Agent run starting",
		zap.String("goal", task.Goal),
		zap.Int("max_steps", a.settings.MaxSteps),
		zap.Strings("allow_list", a.policy.AllowList()))

	if len(task.InitialCalls) > 0 {
		if err := a.runInitialCalls(ctx, task.InitialCalls); err != nil {
			return a.finish(StateAborted, err)
		}
	}

	for {
		a.mu.Lock()
		state := a.state
		step := a.stepIndex
		stop := a.stopRequested
		pause := a.pauseRequested
		a.mu.Unlock()

		if state.Terminal() {
			return state, nil
		}
		if err := ctx.Err(); err != nil || stop {
			return a.finish(StateAborted, err)
		}
		if pause {
			if aborted := a.waitWhilePaused(ctx); aborted {
				return a.finish(StateAborted, ctx.Err())
			}
			continue
		}
		if step >= a.settings.MaxSteps {
			a.history.Append(schemas.StepRecord{
				Step:    step,
				Results: []schemas.ActionResult{{Content: fmt.Sprintf("Reached the %d step limit before the task finished.", a.settings.MaxSteps)}},
			})
			a.logger.Info("Step limit reached", zap.Int("max_steps", a.settings.MaxSteps))
			return a.finish(StateDone, nil)
		}

		done, err := a.step(ctx, step)
		if err != nil {
			var maxErr *MaxFailuresError
			if errors.As(err, &maxErr) {
				return a.finish(StateFailed, err)
			}
			return a.finish(StateAborted, err)
		}
		if done {
			return a.finish(StateDone, nil)
		}

		a.mu.Lock()
		a.stepIndex++
		a.mu.Unlock()
	}
}

// step executes one full iteration of the per-step protocol. It returns
// done=true when a terminal action result was produced. Errors returned here
// end the run; recoverable failures are recorded and counted instead.
func (a *Agent) step(ctx context.Context, step int) (bool, error) {
	snapshot, err := a.session.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("environment unreachable: %w", err)
	}
	location := snapshot.URL

	// A redirect can carry the session outside the allow-list between steps.
	// Retreat before the model sees the page.
	if !a.policy.Allowed(location) {
		a.logger.Warn("Current location is outside the allow-list, navigating back", zap.String("location", location))
		if err := a.session.Back(ctx); err != nil {
			a.logger.Warn("Back navigation failed", zap.Error(err))
		}
		record := schemas.StepRecord{
			Step:      step,
			URLBefore: location,
			Error:     fmt.Sprintf("location %s is not in the allow-list", location),
		}
		a.history.Append(record)
		return false, a.recordFailure()
	}

	a.maybePlan(ctx, step)
	a.maybeCompact(ctx, step)
	a.invokeHook("on_step_start", a.onStepStart)

	decision, err := a.decide(ctx, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		a.history.Append(schemas.StepRecord{Step: step, URLBefore: location, Error: err.Error()})
		a.logger.Warn("Model decision failed", zap.Error(err))

		var rateErr *schemas.RateLimitError
		if errors.As(err, &rateErr) {
			a.logger.Info("Rate limited, delaying next step", zap.Duration("delay", a.settings.RetryDelay))
			if !sleepCtx(ctx, a.settings.RetryDelay) {
				return false, ctx.Err()
			}
		}
		if err := a.recordFailure(); err != nil {
			return false, err
		}
		a.invokeHook("on_step_end", a.onStepEnd)
		return false, nil
	}

	calls := decision.Calls
	if len(calls) > a.settings.MaxActionsPerStep {
		a.logger.Warn("Truncating model calls to the per-step limit",
			zap.Int("proposed", len(calls)),
			zap.Int("limit", a.settings.MaxActionsPerStep))
		calls = calls[:a.settings.MaxActionsPerStep]
	}

	record := schemas.StepRecord{
		Step:      step,
		Thought:   decision.Thought,
		Plan:      a.Plan(),
		Calls:     calls,
		URLBefore: location,
	}
	record.Results = a.execute(ctx, calls, location)

	if after, err := a.session.CurrentURL(ctx); err == nil {
		record.URLAfter = after
	}
	a.history.Append(record)

	if record.Succeeded() {
		a.mu.Lock()
		a.consecutiveFailures = 0
		a.mu.Unlock()
	} else if err := a.recordFailure(); err != nil {
		return false, err
	}

	a.invokeHook("on_step_end", a.onStepEnd)
	return record.IsDone(), nil
}

// execute dispatches the step's calls in order. A terminal result is honored
// only as the step's final call. A validation failure is recorded and the
// step moves on to the next call; any other failure aborts the remainder of
// the step (the loop itself continues).
func (a *Agent) execute(ctx context.Context, calls []schemas.ActionCall, location string) []schemas.ActionResult {
	results := make([]schemas.ActionResult, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			results = append(results, schemas.ActionResult{Error: "run cancelled before the call executed"})
			break
		}
		result, err := a.dispatcher.Execute(ctx, call, location, a.session)
		results = append(results, result)

		a.logger.Info("Executed action",
			zap.String("action", call.Name),
			zap.Int("call", i+1),
			zap.Int("of", len(calls)),
			zap.Bool("ok", err == nil))

		if err != nil {
			var verr *dispatch.ValidationError
			if errors.As(err, &verr) {
				// Bad arguments don't poison the rest of the step; the
				// model sees the field errors in the record and can retry.
				continue
			}
			if i < len(calls)-1 {
				a.logger.Info("Skipping remaining calls after failure", zap.Int("skipped", len(calls)-i-1))
			}
			break
		}
		if result.Done {
			if i < len(calls)-1 {
				a.logger.Info("Terminal result; remaining calls not executed", zap.Int("skipped", len(calls)-i-1))
			}
			break
		}
		if i < len(calls)-1 && a.settings.WaitBetweenActions > 0 {
			if !sleepCtx(ctx, a.settings.WaitBetweenActions) {
				break
			}
		}
		// Refresh the location between calls: an earlier call may have
		// navigated, and scopes are evaluated against where we are now.
		if current, err := a.session.CurrentURL(ctx); err == nil && current != "" {
			location = current
		}
	}
	return results
}

// decide submits the snapshot and permitted-action schemas to the model.
func (a *Agent) decide(ctx context.Context, snapshot schemas.Snapshot) (schemas.Decision, error) {
	a.mu.Lock()
	goal := a.task.Goal
	plan := a.plan
	a.mu.Unlock()

	return a.model.Decide(ctx, schemas.DecideRequest{
		Task:     goal,
		Plan:     plan,
		Snapshot: snapshot,
		Actions:  a.registry.PromptFor(snapshot.URL),
		History:  a.history.Render(),
		MaxCalls: a.settings.MaxActionsPerStep,
	})
}

// maybePlan refreshes the plan on the configured cadence. Failures are
// logged and the prior plan is retained.
func (a *Agent) maybePlan(ctx context.Context, step int) {
	if a.planner == nil || step%a.settings.PlannerInterval != 0 {
		return
	}
	plan, err := a.planner.Plan(ctx, a.task.Goal, a.history.Records())
	if err != nil {
		perr := &PlannerError{Err: err}
		a.logger.Warn("Planner failed, keeping prior plan", zap.Error(perr))
		return
	}
	a.mu.Lock()
	a.plan = plan
	a.mu.Unlock()
	a.logger.Debug("Plan updated", zap.Int("step", step))
}

// maybeCompact folds history into a summary on the configured cadence.
func (a *Agent) maybeCompact(ctx context.Context, step int) {
	if a.compactor == nil || a.settings.MemoryInterval <= 0 {
		return
	}
	if step == 0 || step%a.settings.MemoryInterval != 0 {
		return
	}
	records := a.history.Records()
	if len(records) < 2 {
		return
	}
	summary, err := a.compactor.Compact(ctx, records)
	if err != nil {
		a.logger.Warn("Memory compaction failed, keeping full history", zap.Error(err))
		return
	}
	a.history.Compact(len(records), summary)
	a.logger.Debug("History compacted", zap.Int("records", len(records)))
}

// runInitialCalls executes the task's configured calls through the normal
// dispatch path before the first model-driven step.
func (a *Agent) runInitialCalls(ctx context.Context, calls []schemas.ActionCall) error {
	location, err := a.session.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("environment unreachable: %w", err)
	}
	record := schemas.StepRecord{
		Step:      0,
		Thought:   "Executing configured initial actions.",
		Calls:     calls,
		URLBefore: location,
	}
	record.Results = a.execute(ctx, calls, location)
	if after, err := a.session.CurrentURL(ctx); err == nil {
		record.URLAfter = after
	}
	a.history.Append(record)

	a.mu.Lock()
	a.stepIndex = 1
	a.mu.Unlock()
	return ctx.Err()
}

// recordFailure bumps the consecutive-failure counter and converts threshold
// breach into the fatal error.
func (a *Agent) recordFailure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveFailures++
	a.logger.Warn("Step produced no successful result",
		zap.Int("consecutive_failures", a.consecutiveFailures),
		zap.Int("threshold", a.settings.MaxFailures))
	if a.consecutiveFailures >= a.settings.MaxFailures {
		return &MaxFailuresError{Threshold: a.settings.MaxFailures}
	}
	return nil
}

// waitWhilePaused parks the loop until resume, stop or cancellation. Returns
// true when the run should abort.
func (a *Agent) waitWhilePaused(ctx context.Context) bool {
	a.mu.Lock()
	a.state = StatePaused
	resumed := a.resumed
	a.mu.Unlock()
	a.logger.Info("Agent paused")

	select {
	case <-resumed:
	case <-ctx.Done():
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopRequested {
		return false // the main loop sees stopRequested and aborts
	}
	a.state = StateRunning
	a.logger.Info("Agent resumed", zap.Int("next_step", a.stepIndex))
	return false
}

// invokeHook runs a caller hook with full error isolation.
func (a *Agent) invokeHook(name string, hook Hook) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Hook panicked", zap.String("hook", name), zap.Any("panic", r))
		}
	}()
	hook(a)
}

// finish records the terminal transition.
func (a *Agent) finish(state State, err error) (State, error) {
	a.mu.Lock()
	a.state = state
	steps := a.stepIndex
	a.mu.Unlock()

	a.logger.Info("Agent run finished",
		zap.String("state", string(state)),
		zap.Int("steps", steps),
		zap.Int("records", a.history.Len()),
		zap.Error(err))
	return state, err
}

// sleepCtx sleeps for d unless the context ends first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
