package provider

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// Local "hosts" images in a directory, typically one served by a static file
// server at BaseURL.
type Local struct {
	name        string
	rootDir     string
	baseURL     string
	permissions os.FileMode
}

// NewLocal creates the provider rooted at dir.
func NewLocal(name, dir, baseURL string, perm os.FileMode) (*Local, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "provider.local", fmt.Errorf("name is required"))
	}
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "provider.local.mkdir", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "provider.local", err)
	}
	return &Local{name: name, rootDir: abs, baseURL: baseURL, permissions: perm}, nil
}

func (l *Local) Name() string { return l.name }

// Upload writes blob under a fresh <uuid>/<filename> key.  The file appears
// atomically: it is written to a temp file and renamed.
func (l *Local) Upload(ctx context.Context, blob core.Blob, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		name = "image" + core.FormatJPEG.Extension()
	}
	key := uuid.NewString() + "/" + name
	path := filepath.Join(l.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), l.permissions); err != nil {
		return "", fmt.Errorf("chmod: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}

	if l.baseURL == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
	}
	return url.JoinPath(l.baseURL, key)
}

var _ core.Provider = (*Local)(nil)
