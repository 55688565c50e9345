package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Decide(ctx context.Context, req schemas.DecideRequest) (schemas.Decision, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.Decision), args.Error(1)
}

func (m *mockModel) Generate(ctx context.Context, req schemas.GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestPlan(t *testing.T) {
	model := new(mockModel)
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerateRequest) bool {
		return strings.Contains(req.Prompt, "find the cheapest flight") &&
			strings.Contains(req.Prompt, "navigate -> ok") &&
			strings.Contains(req.Prompt, "click_element -> failed: element not found")
	})).Return("  1. retry the search\n2. sort by price  ", nil)

	p := New(zap.NewNop(), model)
	plan, err := p.Plan(context.Background(), "find the cheapest flight", []schemas.StepRecord{
		{
			Step:    0,
			Thought: "opening the airline site",
			Calls:   []schemas.ActionCall{{Name: "navigate"}, {Name: "click_element"}},
			Results: []schemas.ActionResult{
				{Content: "Navigated"},
				{Error: "element not found"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1. retry the search\n2. sort by price", plan, "plan text is trimmed")
}

func TestPlan_NoHistory(t *testing.T) {
	model := new(mockModel)
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerateRequest) bool {
		return strings.Contains(req.Prompt, "No steps taken yet")
	})).Return("1. open the site", nil)

	p := New(zap.NewNop(), model)
	plan, err := p.Plan(context.Background(), "buy a book", nil)
	require.NoError(t, err)
	assert.Equal(t, "1. open the site", plan)
}

func TestPlan_ModelError(t *testing.T) {
	model := new(mockModel)
	modelErr := errors.New("model overloaded")
	model.On("Generate", mock.Anything, mock.Anything).Return("", modelErr)

	p := New(zap.NewNop(), model)
	_, err := p.Plan(context.Background(), "anything", nil)
	require.ErrorIs(t, err, modelErr)
}
