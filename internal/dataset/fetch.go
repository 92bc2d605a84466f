package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/casesim/internal/logger"
)

// Fetcher downloads dataset files over HTTP.
type Fetcher struct {
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewFetcher creates a new Fetcher
func NewFetcher(timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Fetcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Fetcher{
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Download fetches url into dest. The file is written to a temporary path
// first and renamed, so dest never holds a partial download.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	resp, err := f.doRequest(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to download dataset: %w", err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	tempPath := dest + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	if err := os.Rename(tempPath, dest); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	logger.Info("Downloaded %d bytes from %s to %s", n, url, dest)
	return nil
}

// doRequest performs HTTP request with retry logic
func (f *Fetcher) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < f.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("Dataset request attempt %d/%d failed: %v", i+1, f.maxRetries, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Warn("Dataset request attempt %d/%d failed: %v", i+1, f.maxRetries, lastErr)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
