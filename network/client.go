package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thrylos-labs/hashsync/types"
)

const maxReportSize = 4 << 20

// Client polls peers over HTTP.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// FetchState asks peer for its current StateReport.
func (c *Client) FetchState(ctx context.Context, peer string) (*types.StateReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state from %s: %w", peer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK response from %s: %s", peer, resp.Status)
	}

	var report types.StateReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReportSize)).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode state from %s: %w", peer, err)
	}
	return &report, nil
}

// Ping checks that peer answers.
func (c *Client) Ping(ctx context.Context, peer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy peer %s with status: %d", peer, resp.StatusCode)
	}
	return nil
}
