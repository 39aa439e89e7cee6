package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// FetchBytes downloads url and returns the response body. The response must
// carry a Content-Type starting with contentTypePrefix (empty accepts any)
// and a body of at most maxBytes.
func FetchBytes(ctx context.Context, client *http.Client, url string, maxBytes int64, contentTypePrefix string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("media: download size cap must be positive, got %d", maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("media: build download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media: download %s: unexpected status %d", url, resp.StatusCode)
	}
	if contentTypePrefix != "" {
		ct := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, contentTypePrefix) {
			return nil, fmt.Errorf("media: download %s: content type %q does not match %q", url, ct, contentTypePrefix)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media: download %s: read body: %w", url, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media: download %s: body exceeds %d bytes", url, maxBytes)
	}
	return data, nil
}

// DownloadFile fetches url into dest, subject to the same size and content
// type checks as [FetchBytes].
func DownloadFile(ctx context.Context, client *http.Client, url, dest string, maxBytes int64, contentTypePrefix string) error {
	data, err := FetchBytes(ctx, client, url, maxBytes, contentTypePrefix)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("media: write %s: %w", dest, err)
	}
	return nil
}
