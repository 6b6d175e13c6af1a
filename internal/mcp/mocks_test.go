package mcp

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
)

type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*runner.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEngineOps struct {
	mock.Mock
}

func (m *MockEngineOps) DaemonVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEngineOps) CreateVolume(ctx context.Context, opts docker.VolumeOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngineOps) SeedVolume(ctx context.Context, volumeName, payload string) error {
	args := m.Called(ctx, volumeName, payload)
	return args.Error(0)
}

func (m *MockEngineOps) ListContainers(ctx context.Context, all bool) ([]docker.ContainerSummary, error) {
	args := m.Called(ctx, all)
	if res := args.Get(0); res != nil {
		return res.([]docker.ContainerSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngineOps) ListImages(ctx context.Context) ([]docker.ImageSummary, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]docker.ImageSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

// stubTool is a minimal tool for dispatcher tests.
type stubTool struct {
	name   string
	call   func(ctx context.Context, args map[string]any) (*ToolResult, error)
	panics bool
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (s *stubTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if s.panics {
		panic("stub exploded")
	}
	if s.call != nil {
		return s.call(ctx, args)
	}
	return textResult("ok"), nil
}
