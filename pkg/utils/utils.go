// Package utils provides cached downloads of reference data and the on-disk counter store.
package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("file not found on server")

type progressWriter struct {
	io.Writer
	total  uint64
	last   uint64
	label  string
	logger *zap.Logger
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 { // every 5MB
		pw.logger.Info("downloading", zap.String("file", pw.label), zap.Uint64("mb", pw.total/1024/1024))
		pw.last = pw.total
	}
	return n, err
}

// Fetcher reads remote reference files, keeping a copy under CacheDir when it is set.
type Fetcher struct {
	CacheDir string
	Client   *http.Client
	Logger   *zap.Logger
}

func NewFetcher(cacheDir string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{CacheDir: cacheDir, Client: http.DefaultClient, Logger: logger.Named("fetch")}
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: bad status: %s", url, resp.Status)
	}
	return resp, nil
}

// DownloadFile writes url to path through a temp file and an atomic rename.
func (f *Fetcher) DownloadFile(ctx context.Context, url, path string) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.Logger.Warn("closing response body", zap.Error(err))
		}
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			f.Logger.Warn("removing temp file", zap.String("path", tmpName), zap.Error(err))
		}
	}()

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path), logger: f.Logger}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// CacheFileName is the local name used for url.
func CacheFileName(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	name := parts[len(parts)-1]
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if len(parts) >= 4 {
		host := strings.ReplaceAll(parts[2], ".", "_")
		if host != "" {
			name = host + "_" + name
		}
	}
	return name
}

// Open returns a reader for url. With a cache dir the file is downloaded once and read from
// disk afterwards; without one it is streamed.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.CacheDir == "" {
		f.Logger.Info("streaming", zap.String("url", url))
		resp, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	localPath := filepath.Join(f.CacheDir, CacheFileName(url))
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		f.Logger.Info("downloading", zap.String("url", url))
		if err := f.DownloadFile(ctx, url, localPath); err != nil {
			return nil, err
		}
	} else {
		f.Logger.Debug("using cached file", zap.String("path", localPath))
	}
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return file, nil
}
