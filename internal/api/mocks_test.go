package api

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/mcp"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
	"github.com/tumf/oneoff-docker-runner/internal/session"
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

type MockEngineService struct {
	mock.Mock
}

func (m *MockEngineService) DaemonVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEngineService) CreateVolume(ctx context.Context, opts docker.VolumeOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngineService) SeedVolume(ctx context.Context, volumeName, payload string) error {
	args := m.Called(ctx, volumeName, payload)
	return args.Error(0)
}

// echoTool is a minimal tool for endpoint tests.
type echoTool struct{}

func (echoTool) Name() string                { return "echo" }
func (echoTool) Description() string         { return "echoes its text argument" }
func (echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (echoTool) Call(_ context.Context, args map[string]any) (*mcp.ToolResult, error) {
	text, _ := args["text"].(string)
	return &mcp.ToolResult{Content: []mcp.ContentItem{{Type: "text", Text: text}}}, nil
}

type serverFixture struct {
	server   *Server
	runs     *MockRunService
	engine   *MockEngineService
	sessions *session.Store
}

func newFixture(heartbeat time.Duration) *serverFixture {
	runs := &MockRunService{}
	engine := &MockEngineService{}
	sessions := session.NewStore(session.DefaultTTL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := mcp.NewDispatcher(sessions, logger, mcp.ServerInfo{Name: "oneoff-docker-runner", Version: "test"}, echoTool{})
	return &serverFixture{
		server:   NewServer(runs, engine, dispatcher, sessions, heartbeat, logger),
		runs:     runs,
		engine:   engine,
		sessions: sessions,
	}
}
