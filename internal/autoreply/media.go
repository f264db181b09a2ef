package autoreply

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPMediaFetcher downloads url with client, refusing bodies larger than limit bytes.
func HTTPMediaFetcher(client *http.Client, url string, limit int64, timeout time.Duration) MediaFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ([]byte, string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build media request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch media: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
		}

		body := io.Reader(resp.Body)
		if limit > 0 {
			body = io.LimitReader(resp.Body, limit+1)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, "", fmt.Errorf("read media: %w", err)
		}
		if limit > 0 && int64(len(data)) > limit {
			return nil, "", fmt.Errorf("media exceeds %d bytes", limit)
		}

		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		return data, mime, nil
	}
}
