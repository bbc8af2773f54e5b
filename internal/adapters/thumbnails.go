package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/filex"
)

// Thumbnails stores a remote thumbnail locally and returns its path.
type Thumbnails interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPThumbnails downloads thumbnails into a directory. Transport errors
// and 5xx responses are retried with exponential backoff.
type HTTPThumbnails struct {
	client  *http.Client
	dir     string
	base    time.Duration
	retries uint64
}

func NewHTTPThumbnails(client *http.Client, dir string) (*HTTPThumbnails, error) {
	if client == nil {
		client = http.DefaultClient
	}
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &HTTPThumbnails{client: client, dir: abs, base: 200 * time.Millisecond, retries: 3}, nil
}

// Fetch returns the cached file when present, downloading it otherwise.
func (h *HTTPThumbnails) Fetch(ctx context.Context, url string) (string, error) {
	name := filex.NameForURL(url)
	cached := filepath.Join(h.dir, name)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	var data []byte
	b := retry.WithMaxRetries(h.retries, retry.NewExponential(h.base))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		data, err = h.download(ctx, url)
		if errors.Is(err, common.ErrNetwork) || errors.Is(err, common.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("thumbnail %s: %w", url, err)
	}
	return filex.WriteAtomic(h.dir, name, data)
}

func (h *HTTPThumbnails) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", common.ErrUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s", common.ErrRejected, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	return data, nil
}
