package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client queries a running daemon's status server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL)
func NewClient(addr string) *Client {
	base := addr
	if strings.HasPrefix(base, ":") {
		base = "localhost" + base
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Compactions returns the structured view of every running operation
func (c *Client) Compactions(ctx context.Context) ([]map[string]string, error) {
	var out []map[string]string
	if err := c.do(ctx, http.MethodGet, "/compactions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stop requests a stop of every running operation of the given type
func (c *Client) Stop(ctx context.Context, taskType string) (StopResponse, error) {
	var out StopResponse
	err := c.do(ctx, http.MethodPost, "/compactions/stop?type="+url.QueryEscape(taskType), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach status server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
