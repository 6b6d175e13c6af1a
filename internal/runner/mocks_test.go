package runner

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) PullImage(ctx context.Context, ref string, auth *docker.RegistryAuth) error {
	args := m.Called(ctx, ref, auth)
	return args.Error(0)
}

func (m *MockEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	args := m.Called(ctx, ref)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngine) RunContainer(ctx context.Context, opts docker.RunOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) WaitContainer(ctx context.Context, containerID string, timeout time.Duration) (int64, error) {
	args := m.Called(ctx, containerID, timeout)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEngine) ContainerLogs(ctx context.Context, containerID string) (string, string, error) {
	args := m.Called(ctx, containerID)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockEngine) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}
