package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tumf/oneoff-docker-runner/internal/archive"
	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/mount"
)

func testOrchestrator(engine Engine) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(engine, mount.NewResolver(logger), logger, 5*time.Minute, PullMissing)
}

// stagingLeft reports whether any request staging directories survived.
func stagingLeft(t *testing.T) bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "oneoff-mounts-*"))
	require.NoError(t, err)
	return len(matches) > 0
}

func TestRun_Success(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("ImageExists", mock.Anything, "alpine:latest").Return(true, nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", 5*time.Minute).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("hi\n", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	result, err := o.Run(context.Background(), Request{
		Image:   "alpine:latest",
		Command: []string{"echo", "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "hi\n", result.Stdout)
	assert.Equal(t, "", result.Stderr)
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)
	assert.NotNil(t, result.Volumes)
	assert.Empty(t, result.Volumes)
	engine.AssertExpectations(t)
}

func TestRun_PullPolicyNever(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	_, err := o.Run(context.Background(), Request{Image: "alpine:latest", PullPolicy: PullNever})
	require.NoError(t, err)

	engine.AssertNotCalled(t, "PullImage", mock.Anything, mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "ImageExists", mock.Anything, mock.Anything)
}

func TestRun_PullPolicyAlways(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("PullImage", mock.Anything, "alpine:latest", mock.Anything).Return(nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	_, err := o.Run(context.Background(), Request{Image: "alpine:latest", PullPolicy: PullAlways})
	require.NoError(t, err)
	engine.AssertCalled(t, "PullImage", mock.Anything, "alpine:latest", mock.Anything)
}

func TestRun_PullPolicyMissing(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("ImageExists", mock.Anything, "alpine:latest").Return(false, nil)
	engine.On("PullImage", mock.Anything, "alpine:latest", mock.Anything).Return(nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	_, err := o.Run(context.Background(), Request{Image: "alpine:latest"})
	require.NoError(t, err)
	engine.AssertCalled(t, "PullImage", mock.Anything, "alpine:latest", mock.Anything)
}

func TestRun_NonZeroExit(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("ImageExists", mock.Anything, "alpine:latest").Return(true, nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(1), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "boom\n", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	result, err := o.Run(context.Background(), Request{Image: "alpine:latest"})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, int64(1), exitErr.Code)
	require.NotNil(t, result)
	assert.Equal(t, "error: 1", result.Status)
	assert.Equal(t, "boom\n", result.Stderr)
	assert.Same(t, result, exitErr.Result)
	engine.AssertCalled(t, "RemoveContainer", mock.Anything, "c1")
}

func TestRun_ValidationFailureBeforeEngine(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	_, err := o.Run(context.Background(), Request{
		Image:      "alpine:latest",
		PullPolicy: PullNever,
		Volumes: map[string]mount.Spec{
			"/data":    {Type: mount.KindVolume, VolumeName: "v1"},
			"/data:ro": {Type: mount.KindVolume, VolumeName: "v2"},
		},
	})
	assert.ErrorIs(t, err, mount.ErrDuplicateTarget)
	engine.AssertNotCalled(t, "RunContainer", mock.Anything, mock.Anything)
	assert.False(t, stagingLeft(t))
}

func TestRun_PullFailureAborts(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	pullErr := errors.New("registry denied")
	engine.On("PullImage", mock.Anything, "private:latest", mock.Anything).Return(pullErr)

	_, err := o.Run(context.Background(), Request{Image: "private:latest", PullPolicy: PullAlways})
	assert.ErrorIs(t, err, pullErr)
	engine.AssertNotCalled(t, "RunContainer", mock.Anything, mock.Anything)
}

func TestRun_CreateFailureCleansStaging(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("RunContainer", mock.Anything, mock.Anything).Return("", errors.New("create failed"))

	_, err := o.Run(context.Background(), Request{
		Image:      "alpine:latest",
		PullPolicy: PullNever,
		Volumes: map[string]mount.Spec{
			"/app/in.txt": {Type: mount.KindFile, Content: archive.EncodeFile([]byte("data"))},
		},
	})
	require.Error(t, err)
	assert.False(t, stagingLeft(t), "staging must be removed on engine failure")
}

func TestRun_WaitFailureStillRemovesContainer(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), errors.New("wait blew up"))
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	_, err := o.Run(context.Background(), Request{Image: "alpine:latest", PullPolicy: PullNever})
	require.Error(t, err)
	engine.AssertCalled(t, "RemoveContainer", mock.Anything, "c1")
}

func TestRun_MountsReachEngine(t *testing.T) {
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	var gotOpts docker.RunOpts
	engine.On("RunContainer", mock.Anything, mock.MatchedBy(func(opts docker.RunOpts) bool {
		gotOpts = opts
		return true
	})).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	_, err := o.Run(context.Background(), Request{
		Image:      "alpine:latest",
		PullPolicy: PullNever,
		EnvVars:    map[string]string{"FOO": "bar"},
		Volumes: map[string]mount.Spec{
			"/app/in.txt:ro": {Type: mount.KindFile, Content: archive.EncodeFile([]byte("data"))},
			"/cache":         {Type: mount.KindVolume, VolumeName: "build-cache"},
		},
	})
	require.NoError(t, err)

	require.Len(t, gotOpts.Mounts, 2)
	assert.Equal(t, map[string]string{"FOO": "bar"}, gotOpts.Env)
}

func TestRun_CaptureRoundTrip(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	engine := &MockEngine{}
	o := testOrchestrator(engine)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "in.txt"), []byte("seed"), 0644))
	payload, err := archive.EncodeDirectory(src)
	require.NoError(t, err)

	engine.On("RunContainer", mock.Anything, mock.Anything).Return("c1", nil)
	engine.On("WaitContainer", mock.Anything, "c1", mock.Anything).Return(int64(0), nil)
	engine.On("ContainerLogs", mock.Anything, "c1").Return("", "", nil)
	engine.On("RemoveContainer", mock.Anything, "c1").Return(nil)

	result, err := o.Run(context.Background(), Request{
		Image:      "alpine:latest",
		PullPolicy: PullNever,
		Volumes: map[string]mount.Spec{
			"/app/data": {Type: mount.KindDirectory, Content: payload, Response: true},
		},
	})
	require.NoError(t, err)

	// The container wrote nothing extra; the original content comes back.
	require.Contains(t, result.Volumes, "/app/data")
	captured := result.Volumes["/app/data"]
	require.NotNil(t, captured)
	assert.Equal(t, mount.KindDirectory, captured.Type)

	dest := t.TempDir()
	require.NoError(t, archive.DecodeDirectory(captured.Content, dest))
	got, err := os.ReadFile(filepath.Join(dest, "in.txt"))
	require.NoError(t, err)
	assert.Equal(t, "seed", string(got))

	assert.False(t, stagingLeft(t), "staging must be removed after a successful run")
}
