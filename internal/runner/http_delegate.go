package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCall builds a Delegate call that sends a request to url and decodes a
// DelegateResult from the JSON response body. Non-2xx responses are errors.
func HTTPCall(client *http.Client, method, url string, headers map[string]string) func(ctx context.Context) (DelegateResult, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if method == "" {
		method = http.MethodPost
	}
	return func(ctx context.Context) (DelegateResult, error) {
		var body io.Reader
		if method != http.MethodGet {
			body = bytes.NewReader([]byte("{}"))
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return DelegateResult{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return DelegateResult{}, fmt.Errorf("%s %s: %w", method, url, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return DelegateResult{}, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return DelegateResult{}, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(raw))
		}

		var out DelegateResult
		if len(bytes.TrimSpace(raw)) == 0 {
			return DelegateResult{OK: true}, nil
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return DelegateResult{}, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}
}
