// Package docker wraps the engine operations the gateway needs: image
// pull, one-shot container runs, log collection, and volume management.
package docker

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
)

const labelPrefix = "oneoff-runner."

// MaxLogBytes bounds how much container output is buffered per stream.
const MaxLogBytes = 16 * units.MiB

var (
	// ErrUnavailable marks failures to reach the engine daemon at all,
	// as opposed to failures of individual operations.
	ErrUnavailable = errors.New("docker engine unavailable")

	// ErrWaitTimeout is returned when a container does not exit within
	// the bounded wait window.
	ErrWaitTimeout = errors.New("timed out waiting for container")
)

// Options configures how the engine client connects.
type Options struct {
	Host        string // engine endpoint, empty means environment/default socket
	TLSVerify   bool
	CertPath    string // directory holding ca.pem, cert.pem, key.pem
	HelperImage string // image used for one-shot volume seeding
}

// Client is a lazily connected engine client. The first operation
// establishes the connection; construction never fails, so the gateway
// can start while the daemon is down and report 503 until it returns.
type Client struct {
	opts Options

	mu  sync.Mutex
	api client.APIClient
}

func New(opts Options) *Client {
	if opts.HelperImage == "" {
		opts.HelperImage = "busybox:stable"
	}
	return &Client{opts: opts}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil
	}
	return c.api.Close()
}

func (c *Client) apiClient() (client.APIClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.opts.Host != "" {
		opts = append(opts, client.WithHost(c.opts.Host))
	}
	if c.opts.TLSVerify && c.opts.CertPath != "" {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(c.opts.CertPath, "ca.pem"),
			filepath.Join(c.opts.CertPath, "cert.pem"),
			filepath.Join(c.opts.CertPath, "key.pem"),
		))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.api = cli
	return c.api, nil
}

// Ping verifies the engine daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	cli, err := c.apiClient()
	if err != nil {
		return err
	}
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DaemonVersion returns the engine version string.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	cli, err := c.apiClient()
	if err != nil {
		return "", err
	}
	v, err := cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.Version, nil
}

// RegistryAuth carries registry credentials, passed through to the pull
// verbatim.
type RegistryAuth struct {
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	Email         string `json:"email,omitempty"`
	ServerAddress string `json:"serveraddress,omitempty"`
}

// PullImage pulls an image, optionally authenticated, draining the
// progress stream to completion.
func (c *Client) PullImage(ctx context.Context, ref string, auth *RegistryAuth) error {
	cli, err := c.apiClient()
	if err != nil {
		return err
	}

	pullOpts := image.PullOptions{}
	if auth != nil {
		encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			Email:         auth.Email,
			ServerAddress: auth.ServerAddress,
		})
		if err != nil {
			return fmt.Errorf("encode registry auth: %w", err)
		}
		pullOpts.RegistryAuth = encoded
	}

	rc, err := cli.ImagePull(ctx, ref, pullOpts)
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()

	// Pull completion is signalled by stream EOF.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

// ImageExists reports whether the image is already present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	cli, err := c.apiClient()
	if err != nil {
		return false, err
	}
	if _, err := cli.ImageInspect(ctx, ref); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %w", ref, err)
	}
	return true, nil
}

// RunOpts describes one container run.
type RunOpts struct {
	Image      string
	Command    []string
	Entrypoint []string
	Env        map[string]string
	Mounts     []mount.Mount
}

// RunContainer creates and starts a container. On start failure the
// created container is removed before returning.
func (c *Client) RunContainer(ctx context.Context, opts RunOpts) (string, error) {
	cli, err := c.apiClient()
	if err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Entrypoint: opts.Entrypoint,
		Env:        flattenEnv(opts.Env),
		Labels: map[string]string{
			labelPrefix + "managed": "true",
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: opts.Mounts,
	}

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

// WaitContainer blocks until the container exits or the bounded wait
// elapses, returning the exit code.
func (c *Client) WaitContainer(ctx context.Context, containerID string, timeout time.Duration) (int64, error) {
	cli, err := c.apiClient()
	if err != nil {
		return 0, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	statusCh, errCh := cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		}
		return 0, fmt.Errorf("container wait: %w", err)
	}
}

// ContainerLogs collects the container's full stdout and stderr,
// demultiplexing the engine's combined stream.
func (c *Client) ContainerLogs(ctx context.Context, containerID string) (string, string, error) {
	cli, err := c.apiClient()
	if err != nil {
		return "", "", err
	}

	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	limited := io.LimitReader(rc, 2*MaxLogBytes)
	if _, err := stdcopy.StdCopy(&stdout, &stderr, limited); err != nil {
		return "", "", fmt.Errorf("demux logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// RemoveContainer force-removes a container.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	cli, err := c.apiClient()
	if err != nil {
		return err
	}
	err = cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// VolumeOpts describes a volume creation request.
type VolumeOpts struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
}

// CreateVolume creates an engine-managed volume and returns its name.
func (c *Client) CreateVolume(ctx context.Context, opts VolumeOpts) (string, error) {
	cli, err := c.apiClient()
	if err != nil {
		return "", err
	}

	labels := map[string]string{labelPrefix + "managed": "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	driver := opts.Driver
	if driver == "" {
		driver = "local"
	}

	vol, err := cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:       opts.Name,
		Driver:     driver,
		DriverOpts: opts.DriverOpts,
		Labels:     labels,
	})
	if err != nil {
		return "", fmt.Errorf("volume create: %w", err)
	}
	return vol.Name, nil
}

// SeedVolume streams a base64(gzip(tar)) payload into a volume through a
// one-shot helper container that mounts it. The helper never starts; the
// archive is copied onto its mount point and the container removed.
func (c *Client) SeedVolume(ctx context.Context, volumeName, payload string) error {
	cli, err := c.apiClient()
	if err != nil {
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode volume content: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode volume content: %w", err)
	}
	defer gz.Close()

	if ok, err := c.ImageExists(ctx, c.opts.HelperImage); err != nil {
		return err
	} else if !ok {
		if err := c.PullImage(ctx, c.opts.HelperImage, nil); err != nil {
			return err
		}
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: c.opts.HelperImage,
		Cmd:   []string{"true"},
		Labels: map[string]string{
			labelPrefix + "helper": "true",
		},
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: "/data",
		}},
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("helper create: %w", err)
	}
	defer cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})

	// CopyToContainer expects a tar stream; the gunzipped payload is one.
	if err := cli.CopyToContainer(ctx, resp.ID, "/data", gz, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("seed volume %s: %w", volumeName, err)
	}
	return nil
}

// ContainerSummary is the trimmed listing shape exposed by the
// list_containers tool.
type ContainerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
}

// ListContainers lists engine containers, optionally including stopped
// ones.
func (c *Client) ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error) {
	cli, err := c.apiClient()
	if err != nil {
		return nil, err
	}

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	result := make([]ContainerSummary, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
		}
		result = append(result, ContainerSummary{
			ID:     shortID(ctr.ID),
			Name:   name,
			Image:  ctr.Image,
			Status: ctr.Status,
		})
	}
	return result, nil
}

// ImageSummary is the trimmed listing shape exposed by the list_images
// tool.
type ImageSummary struct {
	ID        string   `json:"id"`
	Tags      []string `json:"tags"`
	SizeBytes int64    `json:"size_bytes"`
}

// ListImages lists local engine images.
func (c *Client) ListImages(ctx context.Context) ([]ImageSummary, error) {
	cli, err := c.apiClient()
	if err != nil {
		return nil, err
	}

	images, err := cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("image list: %w", err)
	}

	result := make([]ImageSummary, 0, len(images))
	for _, img := range images {
		tags := img.RepoTags
		if len(tags) == 0 {
			tags = []string{"<none>:<none>"}
		}
		result = append(result, ImageSummary{
			ID:        shortID(img.ID),
			Tags:      tags,
			SizeBytes: img.Size,
		})
	}
	return result, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	const trimmed = 12
	if len(id) > trimmed {
		return id[:trimmed]
	}
	return id
}
