package mount

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	dockermount "github.com/docker/docker/api/types/mount"
	"github.com/google/uuid"

	"github.com/tumf/oneoff-docker-runner/internal/archive"
)

// Staging owns the temporary host storage created for one request's file
// and directory mounts. Cleanup is idempotent and safe on a nil receiver,
// so callers can defer it unconditionally.
type Staging struct {
	root string
	once sync.Once
}

// Cleanup removes the whole staging tree. The orchestrator invokes it on
// every exit path.
func (s *Staging) Cleanup() error {
	if s == nil || s.root == "" {
		return nil
	}
	var err error
	s.once.Do(func() {
		err = os.RemoveAll(s.root)
	})
	return err
}

// Root is exposed for filesystem assertions in tests.
func (s *Staging) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

// CaptureSource records where a capture-on-response mount was staged.
type CaptureSource struct {
	Kind Kind
	Path string
}

// Captured is one re-encoded mount in the response, typed as declared in
// the request.
type Captured struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

// Resolver materializes parsed mount entries.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve turns entries into engine mounts plus a manifest of container
// paths to capture after the run. Content mounts are decoded into a fresh
// staging area whose lifecycle the returned Staging handle owns. On error
// any staging already created is removed before returning.
func (r *Resolver) Resolve(entries []Entry) ([]dockermount.Mount, map[string]CaptureSource, *Staging, error) {
	mounts := make([]dockermount.Mount, 0, len(entries))
	manifest := make(map[string]CaptureSource)
	staging := &Staging{}

	for _, entry := range entries {
		m, src, err := r.resolveEntry(entry, staging)
		if err != nil {
			staging.Cleanup()
			return nil, nil, nil, err
		}
		mounts = append(mounts, m)
		if entry.Spec.Response && src != "" {
			manifest[entry.Target] = CaptureSource{Kind: entry.Spec.Type, Path: src}
		}
	}

	return mounts, manifest, staging, nil
}

func (r *Resolver) resolveEntry(entry Entry, staging *Staging) (dockermount.Mount, string, error) {
	switch entry.Spec.Type {
	case KindFile:
		slot, err := r.stagingSlot(staging)
		if err != nil {
			return dockermount.Mount{}, "", err
		}
		content, err := archive.DecodeFile(entry.Spec.Content)
		if err != nil {
			return dockermount.Mount{}, "", &DecodeError{Key: entry.Key, Err: err}
		}
		mode, err := parseFileMode(entry.Key, entry.Spec.Mode)
		if err != nil {
			return dockermount.Mount{}, "", err
		}
		file := filepath.Join(slot, path.Base(entry.Target))
		if err := os.WriteFile(file, content, mode); err != nil {
			return dockermount.Mount{}, "", fmt.Errorf("stage file for %q: %w", entry.Key, err)
		}
		return bindMount(file, entry), file, nil

	case KindDirectory:
		slot, err := r.stagingSlot(staging)
		if err != nil {
			return dockermount.Mount{}, "", err
		}
		if err := archive.DecodeDirectory(entry.Spec.Content, slot); err != nil {
			return dockermount.Mount{}, "", &DecodeError{Key: entry.Key, Err: err}
		}
		return bindMount(slot, entry), slot, nil

	case KindVolume:
		if entry.Spec.Response {
			// Engine-side volume content is not re-readable here; the
			// flag is skipped rather than rejected.
			r.logger.Warn("response capture not supported for volume mounts, skipping",
				"mount", entry.Key, "volume", entry.Spec.VolumeName)
		}
		return dockermount.Mount{
			Type:     dockermount.TypeVolume,
			Source:   entry.Spec.VolumeName,
			Target:   entry.Target,
			ReadOnly: entry.ReadOnly,
		}, "", nil

	case KindHost:
		// Existence of the host path is the engine host's concern.
		return bindMount(entry.Spec.HostPath, entry), "", nil
	}

	return dockermount.Mount{}, "", fmt.Errorf("mount %q: unknown type %q: %w", entry.Key, entry.Spec.Type, ErrInvalidSpec)
}

// stagingSlot allocates one uuid-named directory under the lazily created
// staging root.
func (r *Resolver) stagingSlot(staging *Staging) (string, error) {
	if staging.root == "" {
		root, err := os.MkdirTemp("", "oneoff-mounts-")
		if err != nil {
			return "", fmt.Errorf("create staging root: %w", err)
		}
		staging.root = root
	}
	slot := filepath.Join(staging.root, uuid.New().String()[:8])
	if err := os.MkdirAll(slot, 0755); err != nil {
		return "", fmt.Errorf("create staging slot: %w", err)
	}
	return slot, nil
}

// CaptureResponses re-reads the manifest's staging paths after the
// container has exited. A path the container removed yields a nil value
// for its key, not an error.
func (r *Resolver) CaptureResponses(manifest map[string]CaptureSource) (map[string]*Captured, error) {
	captured := make(map[string]*Captured, len(manifest))
	for target, src := range manifest {
		if _, err := os.Stat(src.Path); os.IsNotExist(err) {
			captured[target] = nil
			continue
		}

		switch src.Kind {
		case KindFile:
			content, err := os.ReadFile(src.Path)
			if err != nil {
				return nil, fmt.Errorf("capture %s: %w", target, err)
			}
			captured[target] = &Captured{Type: KindFile, Content: archive.EncodeFile(content)}
		case KindDirectory:
			payload, err := archive.EncodeDirectory(src.Path)
			if err != nil {
				return nil, fmt.Errorf("capture %s: %w", target, err)
			}
			captured[target] = &Captured{Type: KindDirectory, Content: payload}
		}
	}
	return captured, nil
}

func bindMount(source string, entry Entry) dockermount.Mount {
	return dockermount.Mount{
		Type:     dockermount.TypeBind,
		Source:   source,
		Target:   entry.Target,
		ReadOnly: entry.ReadOnly,
	}
}

func parseFileMode(key, mode string) (os.FileMode, error) {
	if mode == "" {
		return 0644, nil
	}
	n, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mount %q: invalid mode %q: %w", key, mode, ErrInvalidSpec)
	}
	return os.FileMode(n), nil
}
