// Package runner sequences one container execution end to end: pull,
// mount resolution, run, wait, log collection, response capture, and
// guaranteed cleanup.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/mount"
)

// Pull policies.
const (
	PullAlways  = "always"
	PullMissing = "missing"
	PullNever   = "never"
)

// Engine is the container-engine operation set the orchestrator needs.
// *docker.Client implements it.
type Engine interface {
	PullImage(ctx context.Context, ref string, auth *docker.RegistryAuth) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	RunContainer(ctx context.Context, opts docker.RunOpts) (string, error)
	WaitContainer(ctx context.Context, containerID string, timeout time.Duration) (int64, error)
	ContainerLogs(ctx context.Context, containerID string) (string, string, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// Request is one container-execution request.
type Request struct {
	Image      string                `json:"image" validate:"required"`
	Command    []string              `json:"command,omitempty"`
	Entrypoint []string              `json:"entrypoint,omitempty"`
	EnvVars    map[string]string     `json:"env_vars,omitempty"`
	PullPolicy string                `json:"pull_policy,omitempty" validate:"omitempty,oneof=always missing never"`
	AuthConfig *docker.RegistryAuth  `json:"auth_config,omitempty"`
	Volumes    map[string]mount.Spec `json:"volumes,omitempty"`
}

// Result is the outcome of one run. Volumes holds the re-encoded
// capture-on-response mounts; a key whose value is null means the
// container removed that path.
type Result struct {
	Status        string                     `json:"status"`
	Stdout        string                     `json:"stdout"`
	Stderr        string                     `json:"stderr"`
	ExecutionTime float64                    `json:"execution_time"`
	Volumes       map[string]*mount.Captured `json:"volumes"`
}

// ExitError reports a container that ran to completion with a non-zero
// exit code. It is routine, not a system failure: Result carries the
// full output for the caller to inspect.
type ExitError struct {
	Code   int64
	Result *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container exited with code %d", e.Code)
}

// Orchestrator runs requests against an engine. It holds no per-request
// state; concurrent Run calls are independent.
type Orchestrator struct {
	engine            Engine
	resolver          *mount.Resolver
	logger            *slog.Logger
	waitTimeout       time.Duration
	defaultPullPolicy string
}

func New(engine Engine, resolver *mount.Resolver, logger *slog.Logger, waitTimeout time.Duration, defaultPullPolicy string) *Orchestrator {
	if defaultPullPolicy == "" {
		defaultPullPolicy = PullMissing
	}
	return &Orchestrator{
		engine:            engine,
		resolver:          resolver,
		logger:            logger,
		waitTimeout:       waitTimeout,
		defaultPullPolicy: defaultPullPolicy,
	}
}

// Run executes one request. Phases are strictly sequential; staging
// storage and any created container are released on every exit path.
// A non-zero exit returns both the populated Result and an *ExitError
// wrapping it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	entries, err := mount.ParseSpecs(req.Volumes)
	if err != nil {
		return nil, err
	}

	if err := o.pullImage(ctx, req); err != nil {
		return nil, err
	}

	mounts, manifest, staging, err := o.resolver.Resolve(entries)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staging.Cleanup(); err != nil {
			o.logger.Warn("staging cleanup failed", "error", err)
		}
	}()

	containerID, err := o.engine.RunContainer(ctx, docker.RunOpts{
		Image:      req.Image,
		Command:    req.Command,
		Entrypoint: req.Entrypoint,
		Env:        req.EnvVars,
		Mounts:     mounts,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		// Removal must happen even when the request context is gone.
		if err := o.engine.RemoveContainer(context.WithoutCancel(ctx), containerID); err != nil {
			o.logger.Warn("container cleanup failed", "container_id", containerID, "error", err)
		}
	}()

	exitCode, err := o.engine.WaitContainer(ctx, containerID, o.waitTimeout)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := o.engine.ContainerLogs(ctx, containerID)
	if err != nil {
		return nil, err
	}

	captured, err := o.resolver.CaptureResponses(manifest)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Status:        "success",
		Stdout:        stdout,
		Stderr:        stderr,
		ExecutionTime: time.Since(start).Seconds(),
		Volumes:       captured,
	}

	if exitCode != 0 {
		result.Status = fmt.Sprintf("error: %d", exitCode)
		return result, &ExitError{Code: exitCode, Result: result}
	}
	return result, nil
}

func (o *Orchestrator) pullImage(ctx context.Context, req Request) error {
	policy := req.PullPolicy
	if policy == "" {
		policy = o.defaultPullPolicy
	}

	switch policy {
	case PullNever:
		return nil
	case PullAlways:
		return o.engine.PullImage(ctx, req.Image, req.AuthConfig)
	case PullMissing:
		exists, err := o.engine.ImageExists(ctx, req.Image)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return o.engine.PullImage(ctx, req.Image, req.AuthConfig)
	}
	return fmt.Errorf("unknown pull policy: %s", policy)
}
