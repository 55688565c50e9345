package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/dispatch"
	"github.com/pagewarden/pagewarden/internal/registry"
	"github.com/pagewarden/pagewarden/internal/security"
)

// testHarness bundles an agent wired to real registry/dispatcher/policy
// instances and mocked external collaborators.
type testHarness struct {
	agent   *Agent
	session *MockSession
	model   *MockModel
}

func noteCall() schemas.ActionCall { return schemas.ActionCall{Name: "note"} }
func failCall() schemas.ActionCall { return schemas.ActionCall{Name: "fail"} }
func doneCall() schemas.ActionCall { return schemas.ActionCall{Name: "done"} }

func decision(calls ...schemas.ActionCall) schemas.Decision {
	return schemas.Decision{Thought: "test step", Calls: calls}
}

func newHarness(t *testing.T, mutate func(*Options)) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	policy, err := security.NewPolicy(logger, []string{"example.com"})
	require.NoError(t, err)

	reg := registry.New(logger)
	reg.MustRegister(&registry.Descriptor{
		Name: "note",
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			return schemas.ActionResult{Content: "noted"}, nil
		},
	})
	reg.MustRegister(&registry.Descriptor{
		Name: "fail",
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			return schemas.ActionResult{}, errors.New("element vanished")
		},
	})
	reg.MustRegister(&registry.Descriptor{
		Name: "done",
		Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
			return schemas.ActionResult{Content: "finished", Done: true, Success: true}, nil
		},
	})

	session := new(MockSession)
	model := new(MockModel)

	opts := Options{
		Task:       schemas.Task{Goal: "complete the checkout"},
		Settings:   Settings{MaxSteps: 50, MaxFailures: 3, RetryDelay: 5 * time.Millisecond},
		Registry:   reg,
		Dispatcher: dispatch.New(logger, reg, policy),
		Policy:     policy,
		Session:    session,
		Model:      model,
	}
	if mutate != nil {
		mutate(&opts)
	}

	a, err := New(logger, opts)
	require.NoError(t, err)
	return &testHarness{agent: a, session: session, model: model}
}

func (h *testHarness) onPage(url string) {
	h.session.On("Snapshot", mock.Anything).Return(schemas.Snapshot{URL: url, Title: "page"}, nil)
	h.session.On("CurrentURL", mock.Anything).Return(url, nil)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	logger := zap.NewNop()
	_, err := New(logger, Options{})
	require.Error(t, err)
}

func TestRun_TerminalResultStopsRun(t *testing.T) {
	h := newHarness(t, nil)
	h.onPage("https://example.com")

	// Terminal result lands on step index 2; step 3 must never be issued.
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(noteCall()), nil).Twice()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records, 3, "no step runs after the terminal result")
	assert.Equal(t, 2, records[2].Step)
	assert.True(t, records[2].IsDone())
	h.model.AssertNumberOfCalls(t, "Decide", 3)
}

func TestRun_ConsecutiveFailuresReachThreshold(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.MaxFailures = 3 })
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(failCall()), nil)

	state, err := h.agent.Run(context.Background())
	assert.Equal(t, StateFailed, state)

	var maxErr *MaxFailuresError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.Threshold)
	assert.Len(t, h.agent.History(), 3, "exactly one record per failed step")
}

func TestRun_FailureCounterResetsOnSuccess(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.MaxFailures = 2 })
	h.onPage("https://example.com")

	// fail, succeed, fail, succeed... never two failures in a row.
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(failCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(noteCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(failCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
}

func TestRun_PlannerCadence(t *testing.T) {
	planner := new(MockPlanner)
	h := newHarness(t, func(o *Options) {
		o.Settings.PlannerInterval = 4
		o.Planner = planner
	})
	h.onPage("https://example.com")

	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return("1. keep going", nil)

	// Steps 0..7 act, step 8 finishes: planner runs at 0, 4 and 8 only.
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(noteCall()), nil).Times(8)
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	planner.AssertNumberOfCalls(t, "Plan", 3)
	assert.Equal(t, "1. keep going", h.agent.Plan())
}

func TestRun_PlannerFailureIsNonFatal(t *testing.T) {
	planner := new(MockPlanner)
	h := newHarness(t, func(o *Options) { o.Planner = planner })
	h.onPage("https://example.com")

	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("planner overloaded"))
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, h.agent.Plan())
}

func TestRun_MaxStepsIsNonErrorTerminal(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.MaxSteps = 2 })
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(noteCall()), nil)

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records, 3, "two step records plus the limit note")
	assert.Contains(t, records[2].Results[0].Content, "step limit")
	h.model.AssertNumberOfCalls(t, "Decide", 2)
}

func TestRun_RateLimitedModelDelaysAndContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.onPage("https://example.com")

	rateErr := &schemas.RateLimitError{Provider: "gemini", Err: errors.New("429")}
	h.model.On("Decide", mock.Anything, mock.Anything).Return(schemas.Decision{}, rateErr).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	start := time.Now()
	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond, "retry delay applied")

	records := h.agent.History()
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Error, "rate limited")
}

func TestRun_HooksAreErrorIsolated(t *testing.T) {
	var starts, ends int
	h := newHarness(t, func(o *Options) {
		o.OnStepStart = func(a *Agent) {
			starts++
			panic("hook bug")
		}
		o.OnStepEnd = func(a *Agent) { ends++ }
	})
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
}

func TestRun_PauseAndResume(t *testing.T) {
	// The run goroutine must not outlive the test.
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil)
	h.onPage("https://example.com")
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	h.agent.Pause()

	type result struct {
		state State
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		state, err := h.agent.Run(context.Background())
		resultCh <- result{state, err}
	}()

	require.Eventually(t, func() bool {
		return h.agent.State() == StatePaused
	}, time.Second, time.Millisecond, "agent parks at the step boundary")
	assert.Empty(t, h.agent.History(), "no environment interaction while paused")

	h.agent.Resume()

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		assert.Equal(t, StateDone, res.state)
	case <-time.After(time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestRun_StopAborts(t *testing.T) {
	h := newHarness(t, nil)
	h.agent.Stop()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAborted, state)
	assert.Empty(t, h.agent.History())
}

func TestRun_CancellationAborts(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, _ := h.agent.Run(ctx)
	assert.Equal(t, StateAborted, state)
}

func TestRun_EnvironmentUnreachableAborts(t *testing.T) {
	h := newHarness(t, nil)
	h.session.On("Snapshot", mock.Anything).Return(schemas.Snapshot{}, errors.New("browser process exited"))

	state, err := h.agent.Run(context.Background())
	assert.Equal(t, StateAborted, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment unreachable")
}

func TestRun_OffAllowListLocationRetreats(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.MaxFailures = 5 })

	h.session.On("Snapshot", mock.Anything).Return(schemas.Snapshot{URL: "https://evil.com"}, nil).Once()
	h.session.On("Back", mock.Anything).Return(nil).Once()
	h.session.On("Snapshot", mock.Anything).Return(schemas.Snapshot{URL: "https://example.com"}, nil)
	h.session.On("CurrentURL", mock.Anything).Return("https://example.com", nil)

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Error, "not in the allow-list")
	h.session.AssertCalled(t, "Back", mock.Anything)
}

func TestRun_TerminalCallMustBeLast(t *testing.T) {
	h := newHarness(t, nil)
	h.onPage("https://example.com")

	// done followed by note: the trailing call must not execute.
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall(), noteCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records, 1)
	require.Len(t, records[0].Results, 1, "calls after a terminal result are skipped")
}

func TestRun_ValidationFailureContinuesStep(t *testing.T) {
	var stamped bool
	h := newHarness(t, func(o *Options) {
		o.Registry.MustRegister(&registry.Descriptor{
			Name:   "stamp",
			Params: []registry.Parameter{{Name: "label", Type: registry.ParamString, Required: true}},
			Handler: func(ctx context.Context, inv registry.Invocation) (schemas.ActionResult, error) {
				stamped = true
				return schemas.ActionResult{Content: "stamped"}, nil
			},
		})
	})
	h.onPage("https://example.com")

	// stamp without its required label, then note: the bad arguments are
	// recorded and the step carries on to the next call.
	h.model.On("Decide", mock.Anything, mock.Anything).
		Return(decision(schemas.ActionCall{Name: "stamp"}, noteCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.False(t, stamped)

	records := h.agent.History()
	require.Len(t, records, 2)
	require.Len(t, records[0].Results, 2, "a validation failure does not skip later calls")
	assert.Contains(t, records[0].Results[0].Error, "label")
	assert.Equal(t, "noted", records[0].Results[1].Content)
	assert.True(t, records[0].Succeeded())
}

func TestRun_MaxActionsPerStepTruncates(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.MaxActionsPerStep = 2 })
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.Anything).
		Return(decision(noteCall(), noteCall(), noteCall(), noteCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records[0].Calls, 2, "proposed calls truncated to the limit")
}

func TestRun_InitialCallsRunBeforeFirstStep(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Task.InitialCalls = []schemas.ActionCall{noteCall()}
	})
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	records := h.agent.History()
	require.Len(t, records, 2)
	assert.Equal(t, "note", records[0].Calls[0].Name)
	assert.Equal(t, 1, records[1].Step, "initial calls consume step 0")
}

func TestRun_CompactorCadence(t *testing.T) {
	compactor := new(MockCompactor)
	h := newHarness(t, func(o *Options) {
		o.Settings.MemoryInterval = 2
		o.Compactor = compactor
	})
	h.onPage("https://example.com")

	compactor.On("Compact", mock.Anything, mock.Anything).Return("summary of earlier steps", nil)

	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(noteCall()), nil).Times(4)
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	compactor.AssertNumberOfCalls(t, "Compact", 2)

	records := h.agent.History()
	assert.Equal(t, "summary of earlier steps", records[0].Thought)
}

func TestAddNewTask_ExtendsGoalKeepsHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.onPage("https://example.com")

	h.model.On("Decide", mock.Anything, mock.MatchedBy(func(req schemas.DecideRequest) bool {
		return req.Task == "complete the checkout"
	})).Return(decision(noteCall()), nil).Once()
	h.model.On("Decide", mock.Anything, mock.MatchedBy(func(req schemas.DecideRequest) bool {
		return req.Task == "complete the checkout\n\nNew task: download the receipt"
	})).Return(decision(doneCall()), nil).Once()

	var extended bool
	h.agent.onStepEnd = func(a *Agent) {
		if !extended {
			extended = true
			a.AddNewTask("download the receipt")
		}
	}

	state, err := h.agent.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Len(t, h.agent.History(), 2, "history survives the task extension")
}

func TestRun_SecondRunRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.onPage("https://example.com")
	h.model.On("Decide", mock.Anything, mock.Anything).Return(decision(doneCall()), nil).Once()

	_, err := h.agent.Run(context.Background())
	require.NoError(t, err)

	_, err = h.agent.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already ran")
}
