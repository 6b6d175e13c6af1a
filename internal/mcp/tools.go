package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
)

// RunService runs one-off containers; *runner.Orchestrator implements
// it.
type RunService interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// EngineOps is the slice of engine operations the non-run tools need;
// *docker.Client implements it.
type EngineOps interface {
	DaemonVersion(ctx context.Context) (string, error)
	CreateVolume(ctx context.Context, opts docker.VolumeOpts) (string, error)
	SeedVolume(ctx context.Context, volumeName, payload string) error
	ListContainers(ctx context.Context, all bool) ([]docker.ContainerSummary, error)
	ListImages(ctx context.Context) ([]docker.ImageSummary, error)
}

// DefaultTools returns the full tool registry in its canonical order.
func DefaultTools(runs RunService, engine EngineOps) []Tool {
	return []Tool{
		&RunContainerTool{Runs: runs},
		&CreateVolumeTool{Engine: engine},
		&DockerHealthTool{Engine: engine},
		&ListContainersTool{Engine: engine},
		&ListImagesTool{Engine: engine},
	}
}

// decodeArgs maps loosely typed tool arguments onto a request struct.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// RunContainerTool executes a one-off container via the orchestrator.
type RunContainerTool struct {
	Runs RunService
}

func (t *RunContainerTool) Name() string { return "run_container" }

func (t *RunContainerTool) Description() string {
	return "Execute a Docker container with specified image and command"
}

func (t *RunContainerTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image": map[string]any{"type": "string", "description": "Docker image to run"},
			"command": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Command to execute (optional)",
			},
			"entrypoint": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Entrypoint override (optional)",
			},
			"env_vars": map[string]any{
				"type":        "object",
				"description": "Environment variables (optional)",
			},
			"volumes": map[string]any{
				"type":        "object",
				"description": "Volume mounts keyed by container path, with optional :ro/:rw suffix (optional)",
			},
			"pull_policy": map[string]any{
				"type":        "string",
				"enum":        []string{"always", "missing", "never"},
				"default":     "missing",
				"description": "When to pull the image",
			},
		},
		"required": []string{"image"},
	}
}

func (t *RunContainerTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var req runner.Request
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return textError("Container execution failed: image is required"), nil
	}

	result, err := t.Runs.Run(ctx, req)
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			return textError(fmt.Sprintf("Container execution failed: exit code %d\nstdout: %s\nstderr: %s",
				exitErr.Code, exitErr.Result.Stdout, exitErr.Result.Stderr)), nil
		}
		return textError(fmt.Sprintf("Container execution failed: %v", err)), nil
	}

	return textResult(fmt.Sprintf("Container executed successfully. Output: %s",
		strings.TrimSpace(result.Stdout))), nil
}

// CreateVolumeTool creates an engine-managed volume, optionally seeding
// it with archive content.
type CreateVolumeTool struct {
	Engine EngineOps
}

func (t *CreateVolumeTool) Name() string { return "create_volume" }

func (t *CreateVolumeTool) Description() string {
	return "Create a Docker volume, optionally seeded with gzip-tar content"
}

func (t *CreateVolumeTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Volume name"},
			"driver": map[string]any{
				"type":        "string",
				"default":     "local",
				"description": "Volume driver",
			},
			"driver_opts": map[string]any{
				"type":        "object",
				"description": "Driver options (optional)",
			},
			"labels": map[string]any{
				"type":        "object",
				"description": "Volume labels (optional)",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "base64 gzip-tar archive to extract into the volume (optional)",
			},
		},
		"required": []string{"name"},
	}
}

func (t *CreateVolumeTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	var req struct {
		Name       string            `json:"name"`
		Driver     string            `json:"driver"`
		DriverOpts map[string]string `json:"driver_opts"`
		Labels     map[string]string `json:"labels"`
		Content    string            `json:"content"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return textError("Volume creation failed: name is required"), nil
	}

	name, err := t.Engine.CreateVolume(ctx, docker.VolumeOpts{
		Name:       req.Name,
		Driver:     req.Driver,
		DriverOpts: req.DriverOpts,
		Labels:     req.Labels,
	})
	if err != nil {
		return textError(fmt.Sprintf("Volume creation failed: %v", err)), nil
	}

	if req.Content != "" {
		if err := t.Engine.SeedVolume(ctx, name, req.Content); err != nil {
			return textError(fmt.Sprintf("Volume '%s' created but seeding failed: %v", name, err)), nil
		}
	}

	return textResult(fmt.Sprintf("Volume '%s' created successfully", name)), nil
}

// DockerHealthTool reports engine daemon reachability and version.
type DockerHealthTool struct {
	Engine EngineOps
}

func (t *DockerHealthTool) Name() string { return "docker_health" }

func (t *DockerHealthTool) Description() string {
	return "Check Docker daemon health and version"
}

func (t *DockerHealthTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}}
}

func (t *DockerHealthTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	version, err := t.Engine.DaemonVersion(ctx)
	if err != nil {
		return textError(fmt.Sprintf("Docker health check failed: %v", err)), nil
	}
	return textResult(fmt.Sprintf("Docker daemon is healthy. Version: %s", version)), nil
}

// ListContainersTool lists engine containers.
type ListContainersTool struct {
	Engine EngineOps
}

func (t *ListContainersTool) Name() string { return "list_containers" }

func (t *ListContainersTool) Description() string {
	return "List Docker containers"
}

func (t *ListContainersTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"all_containers": map[string]any{
				"type":        "boolean",
				"default":     false,
				"description": "Include stopped containers",
			},
		},
		"required": []string{},
	}
}

func (t *ListContainersTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	all, _ := args["all_containers"].(bool)

	containers, err := t.Engine.ListContainers(ctx, all)
	if err != nil {
		return textError(fmt.Sprintf("Container listing failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d containers:", len(containers))
	for _, c := range containers {
		fmt.Fprintf(&b, "\n- %s (%s): %s", c.Name, c.ID, c.Status)
	}
	return textResult(b.String()), nil
}

// ListImagesTool lists local engine images.
type ListImagesTool struct {
	Engine EngineOps
}

func (t *ListImagesTool) Name() string { return "list_images" }

func (t *ListImagesTool) Description() string {
	return "List Docker images"
}

func (t *ListImagesTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}}
}

func (t *ListImagesTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	images, err := t.Engine.ListImages(ctx)
	if err != nil {
		return textError(fmt.Sprintf("Image listing failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d images:", len(images))
	for _, img := range images {
		fmt.Fprintf(&b, "\n- %s (%s): %s", strings.Join(img.Tags, ", "), img.ID, units.HumanSize(float64(img.SizeBytes)))
	}
	return textResult(b.String()), nil
}
