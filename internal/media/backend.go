// Package media stores uploaded playlist files and serves them back with
// byte-range support.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/castroom/backend/pkg/storage"
)

// Backend persists an uploaded file and returns the URL players load it from.
type Backend interface {
	Put(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error)
}

// LocalDisk keeps uploads in Dir and serves them under BaseURL/media/.
type LocalDisk struct {
	Dir     string
	BaseURL string
}

// NewLocalDisk creates dir if needed.
func NewLocalDisk(dir, baseURL string) (*LocalDisk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalDisk{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes body to Dir/name.
func (d *LocalDisk) Put(_ context.Context, name, _ string, body io.Reader, _ int64) (string, error) {
	name = filepath.Base(name)
	f, err := os.OpenFile(filepath.Join(d.Dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return d.BaseURL + "/media/" + url.PathEscape(name), nil
}

// Resolve maps a public /media/ URL on this server back to the file on disk so
// ffmpeg can read it directly. Anything that is not an existing upload in Dir
// is reported as not ok.
func (d *LocalDisk) Resolve(input string) (string, bool) {
	const prefix = "/media/"
	rest, ok := strings.CutPrefix(input, d.BaseURL+prefix)
	if !ok {
		if rest, ok = strings.CutPrefix(input, prefix); !ok {
			return "", false
		}
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	name, err := url.PathUnescape(rest)
	if err != nil || name == "" || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	local := filepath.Join(d.Dir, name)
	if st, err := os.Stat(local); err != nil || !st.Mode().IsRegular() {
		return "", false
	}
	return local, true
}

// S3Backend keeps uploads in the configured bucket and hands out pre-signed URLs.
type S3Backend struct {
	S3 *storage.S3
}

// Put uploads body and returns a pre-signed download URL.
func (b *S3Backend) Put(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error) {
	key := storage.UploadKey(name)
	if err := b.S3.Upload(ctx, key, contentType, body, size); err != nil {
		return "", err
	}
	return b.S3.DownloadURL(ctx, key)
}

// Resolve accepts only URLs pointing into the uploads bucket. ffmpeg reads them
// as given.
func (b *S3Backend) Resolve(input string) (string, bool) {
	if !b.S3.OwnsURL(input) {
		return "", false
	}
	return input, true
}
