// Package mount turns the declarative volume map of a run request into
// engine-ready bind specifications, materializing inline file and
// directory payloads into a per-request staging area, and re-encodes
// designated mount points into the response after the container exits.
package mount

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Kind identifies the data source of one mount spec.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindVolume    Kind = "volume"
	KindHost      Kind = "host"
)

// Spec is one entry in a request's volume map. The map key carries the
// container path plus an optional ":ro"/":rw" suffix.
type Spec struct {
	Type       Kind   `json:"type"`
	Content    string `json:"content,omitempty"`
	Mode       string `json:"mode,omitempty"`
	VolumeName string `json:"volume_name,omitempty"`
	HostPath   string `json:"host_path,omitempty"`
	Response   bool   `json:"response,omitempty"`
}

var (
	// ErrInvalidSpec marks any structural validation failure in a mount
	// spec. Wrapped errors name the offending key and reason.
	ErrInvalidSpec = errors.New("invalid mount spec")

	// ErrDuplicateTarget is returned when two map keys normalize to the
	// same container path.
	ErrDuplicateTarget = errors.New("duplicate mount target")
)

// DecodeError wraps an archive decoding failure with the mount key it
// belongs to.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mount %q: decode content: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Entry is a parsed and validated mount spec bound to a normalized
// container path.
type Entry struct {
	Key      string // original map key, used in error and response context
	Target   string // absolute container path, suffix stripped
	ReadOnly bool
	Spec     Spec
}

// ParseSpecs validates a volume map and returns its entries sorted by
// target path, so resolution order is independent of map iteration.
func ParseSpecs(specs map[string]Spec) ([]Entry, error) {
	entries := make([]Entry, 0, len(specs))
	seen := make(map[string]string, len(specs))

	for key, spec := range specs {
		entry, err := parseEntry(key, spec)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[entry.Target]; ok {
			return nil, fmt.Errorf("keys %q and %q both mount %s: %w", prev, key, entry.Target, ErrDuplicateTarget)
		}
		seen[entry.Target] = key
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Target < entries[j].Target })
	return entries, nil
}

func parseEntry(key string, spec Spec) (Entry, error) {
	target := key
	readOnly := false
	switch {
	case strings.HasSuffix(key, ":ro"):
		target = strings.TrimSuffix(key, ":ro")
		readOnly = true
	case strings.HasSuffix(key, ":rw"):
		target = strings.TrimSuffix(key, ":rw")
	}

	if !path.IsAbs(target) {
		return Entry{}, fmt.Errorf("mount %q: container path must be absolute: %w", key, ErrInvalidSpec)
	}
	target = path.Clean(target)

	switch spec.Type {
	case KindFile, KindDirectory:
		if spec.Content == "" {
			return Entry{}, fmt.Errorf("mount %q: content is required for type %s: %w", key, spec.Type, ErrInvalidSpec)
		}
	case KindVolume:
		if spec.VolumeName == "" {
			return Entry{}, fmt.Errorf("mount %q: volume_name is required for type volume: %w", key, ErrInvalidSpec)
		}
	case KindHost:
		if spec.HostPath == "" {
			return Entry{}, fmt.Errorf("mount %q: host_path is required for type host: %w", key, ErrInvalidSpec)
		}
		if !path.IsAbs(spec.HostPath) {
			return Entry{}, fmt.Errorf("mount %q: host_path must be absolute: %w", key, ErrInvalidSpec)
		}
		if spec.Response {
			return Entry{}, fmt.Errorf("mount %q: response capture is not supported for host mounts: %w", key, ErrInvalidSpec)
		}
	default:
		return Entry{}, fmt.Errorf("mount %q: unknown type %q: %w", key, spec.Type, ErrInvalidSpec)
	}

	if spec.Mode != "" && spec.Type != KindFile {
		return Entry{}, fmt.Errorf("mount %q: mode applies only to file mounts: %w", key, ErrInvalidSpec)
	}

	return Entry{Key: key, Target: target, ReadOnly: readOnly, Spec: spec}, nil
}
