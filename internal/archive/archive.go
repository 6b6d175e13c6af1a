// Package archive encodes and decodes the two payload shapes carried in
// mount specs: a single file as raw base64 bytes, and a directory tree as
// a base64-wrapped gzip tar archive.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// MaxDecodedBytes caps the total decoded size of a payload. Gzip archives
// can expand far beyond their transport size, so the limit applies to the
// extracted bytes, not the encoded string.
const MaxDecodedBytes = 512 * units.MiB

var (
	// ErrEmptyPayload is returned when a payload decodes to zero bytes.
	ErrEmptyPayload = errors.New("decoded payload is empty")

	// ErrPathTraversal is returned when an archive entry would resolve
	// outside the extraction directory.
	ErrPathTraversal = errors.New("archive entry escapes destination directory")

	// ErrTooLarge is returned when a payload decodes beyond MaxDecodedBytes.
	ErrTooLarge = errors.New("decoded payload exceeds size limit")
)

// EncodeFile encodes raw file content as base64.
func EncodeFile(content []byte) string {
	return base64.StdEncoding.EncodeToString(content)
}

// DecodeFile decodes a base64 file payload.
func DecodeFile(payload string) ([]byte, error) {
	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(content) > MaxDecodedBytes {
		return nil, ErrTooLarge
	}
	return content, nil
}

// EncodeDirectory archives the tree rooted at root as base64(gzip(tar)).
// Entry names are relative to root with forward slashes.
func EncodeDirectory(root string) (string, error) {
	var buf bytes.Buffer
	b64 := base64.NewEncoder(base64.StdEncoding, &buf)
	gz := gzip.NewWriter(b64)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			// Sockets, devices, symlinks: not representable in a payload.
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := b64.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DecodeDirectory extracts a base64(gzip(tar)) payload into dest, which
// must already exist. Entries that would resolve outside dest are rejected
// with ErrPathTraversal. Symlinks are rejected for the same reason: their
// targets cannot be confined to dest.
func DecodeDirectory(payload string, dest string) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("gzip decode: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	destRoot := filepath.Clean(dest)
	var written int64
	extracted := 0

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar decode: %w", err)
		}

		target, err := securePath(destRoot, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fsMode(hdr.Mode, 0755)); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
			n, err := writeEntry(target, tr, fsMode(hdr.Mode, 0644), MaxDecodedBytes-written)
			if err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			written += n
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("entry %s: links not allowed: %w", hdr.Name, ErrPathTraversal)
		default:
			return fmt.Errorf("entry %s: unsupported tar entry type %d", hdr.Name, hdr.Typeflag)
		}
		extracted++
	}

	if extracted == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// securePath resolves an archive entry name under root and rejects any
// entry that escapes it.
func securePath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %s: %w", name, ErrPathTraversal)
	}
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %s: %w", name, ErrPathTraversal)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode, budget int64) (int64, error) {
	if budget <= 0 {
		return 0, ErrTooLarge
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, budget+1))
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, ErrTooLarge
	}
	return n, nil
}

func fsMode(tarMode int64, fallback os.FileMode) os.FileMode {
	mode := os.FileMode(tarMode).Perm()
	if mode == 0 {
		return fallback
	}
	return mode
}
