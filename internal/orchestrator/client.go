package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OutcomeSuccess is the callback outcome that completes a job. Anything else
// in a well-formed result is a business failure recorded against the job.
const OutcomeSuccess = "success"

// Result is the callback's verdict on one job, as seen from this side of the
// wire.
type Result struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail"`
}

// Client calls the backend that owns the business logic. The orchestrator
// never interprets job payloads itself; it only ferries them.
type Client struct {
	baseURL         string
	client          *http.Client
	probeTimeout    time.Duration
	callbackTimeout time.Duration
}

func NewClient(baseURL string, probeTimeout, callbackTimeout time.Duration) *Client {
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		client:          &http.Client{},
		probeTimeout:    probeTimeout,
		callbackTimeout: callbackTimeout,
	}
}

// Health probes the backend. Run refuses to start a loop that can only fail,
// so this gates startup.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

type processRequest struct {
	JobID   int64           `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// ProcessJob hands one claimed job to the backend. An error means the
// invocation itself failed; a Result means the round trip completed, whatever
// the outcome says.
func (c *Client) ProcessJob(ctx context.Context, jobID int64, payload json.RawMessage) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callbackTimeout)
	defer cancel()

	body, err := json.Marshal(processRequest{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-job", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode callback response: %w", err)
	}
	if result.Outcome == "" {
		return nil, fmt.Errorf("callback response missing outcome")
	}
	return &result, nil
}
