package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pagewarden/pagewarden/api/schemas"
)

// MockSession is a testify mock for the browser handle.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Snapshot(ctx context.Context) (schemas.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Snapshot), args.Error(1)
}

func (m *MockSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Back(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockSession) TypeText(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}

func (m *MockSession) Scroll(ctx context.Context, direction string) error {
	return m.Called(ctx, direction).Error(0)
}

func (m *MockSession) ExtractHTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockModel is a testify mock for the language model.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Decide(ctx context.Context, req schemas.DecideRequest) (schemas.Decision, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.Decision), args.Error(1)
}

func (m *MockModel) Generate(ctx context.Context, req schemas.GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockPlanner is a testify mock for the planner collaborator.
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, task string, records []schemas.StepRecord) (string, error) {
	args := m.Called(ctx, task, records)
	return args.String(0), args.Error(1)
}

// MockCompactor is a testify mock for the memory compactor.
type MockCompactor struct {
	mock.Mock
}

func (m *MockCompactor) Compact(ctx context.Context, records []schemas.StepRecord) (string, error) {
	args := m.Called(ctx, records)
	return args.String(0), args.Error(1)
}
