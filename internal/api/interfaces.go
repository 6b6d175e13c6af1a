package api

import (
	"context"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
)

// RunService abstracts the run orchestrator for the REST handlers.
type RunService interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// EngineService abstracts the engine operations the non-run handlers
// need.
type EngineService interface {
	DaemonVersion(ctx context.Context) (string, error)
	CreateVolume(ctx context.Context, opts docker.VolumeOpts) (string, error)
	SeedVolume(ctx context.Context, volumeName, payload string) error
}
