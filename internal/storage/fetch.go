package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illegalcall/emoji-maker/internal/pkg/retry"
)

// Fetcher downloads remote images before they are re-hosted.
type Fetcher struct {
	client  *http.Client
	maxSize int64
	retries int
	backoff time.Duration
}

func NewFetcher(client *http.Client, maxSize int64, retries int, backoff time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxSize: maxSize, retries: retries, backoff: backoff}
}

// Fetch downloads url, retrying transient failures and 5xx responses. Bodies
// larger than the configured size limit are rejected. It returns the bytes
// and the reported content type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	var data []byte
	var contentType string

	err := retry.Do(ctx, f.retries, f.backoff, func(ctx context.Context) error {
		// Create HTTP request with context
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		// Execute request
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download image: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("failed to download image: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("failed to download image: status %d", resp.StatusCode))
		}

		body := io.Reader(resp.Body)
		if f.maxSize > 0 {
			body = io.LimitReader(resp.Body, f.maxSize+1)
		}
		data, err = io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if f.maxSize > 0 && int64(len(data)) > f.maxSize {
			return retry.Permanent(fmt.Errorf("image exceeds maximum size of %d bytes", f.maxSize))
		}

		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
