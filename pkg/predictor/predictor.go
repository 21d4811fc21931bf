// Package predictor is the HTTP client for the external time-series
// prediction oracle (spec.md §6/§9: POST predict_zero_shot_async, poll
// prediction_status until terminal). Values are scaled to [0, 1e6] before
// being sent and restored with the inverse transform on the way back, per
// spec.md §4.8 step 3. Grounded on the teacher's plain net/http JSON-RPC
// style in rpcpool/rpcpool.go (classify transient vs permanent, backoff
// loop) applied here to a REST oracle instead of a chain RPC endpoint.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ref-trader/reftrader/internal/boterr"
)

// Request mirrors the oracle's predict_zero_shot_async payload.
type Request struct {
	Timestamps    []time.Time        `json:"timestamp"`
	Values        []float64          `json:"values"`
	ForecastUntil time.Time          `json:"forecast_until"`
	ModelName     string             `json:"model_name,omitempty"`
	ModelParams   map[string]float64 `json:"model_params,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Status is a prediction task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type statusResponse struct {
	Status Status  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Result is the oracle's forecast payload once a task completes.
type Result struct {
	ForecastTimestamps []time.Time        `json:"forecast_timestamp"`
	ForecastValues     []float64          `json:"forecast_values"`
	ModelName          string             `json:"model_name"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// Client talks to one prediction oracle base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pollEvery  time.Duration
	maxPolls   int
}

// Option configures a Client.
type Option func(*Client)

// WithPolling overrides the default poll interval and attempt bound.
func WithPolling(every time.Duration, maxAttempts int) Option {
	return func(c *Client) { c.pollEvery = every; c.maxPolls = maxAttempts }
}

// WithHTTPClient overrides the default http.Client (timeouts, transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client against baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pollEvery:  2 * time.Second,
		maxPolls:   30,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PredictZeroShot submits req, polls prediction_status until a terminal
// state, and returns the forecast result. It blocks for up to
// pollEvery*maxPolls; cancel ctx to abort earlier.
func (c *Client) PredictZeroShot(ctx context.Context, req Request) (*Result, error) {
	taskID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		status, result, err := c.poll(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status == StatusFailed {
			return nil, fmt.Errorf("predictor: task %s failed", taskID)
		}
		if status == StatusCompleted {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollEvery):
		}
	}
	return nil, &boterr.NotEnoughData{Required: c.maxPolls, Actual: c.maxPolls}
}

func (c *Client) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("predictor: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/predict_zero_shot_async", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("predictor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &boterr.RpcTransient{Method: "predict_zero_shot_async", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", &boterr.RpcTransient{Method: "predict_zero_shot_async", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", &boterr.RpcPermanent{Method: "predict_zero_shot_async", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("predictor: decode submit response: %w", err)
	}
	return out.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (Status, *Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/prediction_status/"+taskID, nil)
	if err != nil {
		return "", nil, fmt.Errorf("predictor: build poll request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, &boterr.RpcTransient{Method: "prediction_status", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", nil, &boterr.RpcTransient{Method: "prediction_status", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, fmt.Errorf("predictor: decode status response: %w", err)
	}
	return out.Status, out.Result, nil
}

// ScaleParams captures the linear map applied before sending values to the
// oracle, so the inverse transform can be applied to its output.
type ScaleParams struct {
	Min, Max float64
}

const scaleCeiling = 1_000_000.0

// NewScaleParams derives a ScaleParams from a raw history window.
func NewScaleParams(values []float64) ScaleParams {
	if len(values) == 0 {
		return ScaleParams{Min: 0, Max: 1}
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		max = min + 1
	}
	return ScaleParams{Min: min, Max: max}
}

// Scale maps v from its original range into [0, 1_000_000].
func (p ScaleParams) Scale(v float64) float64 {
	return (v - p.Min) / (p.Max - p.Min) * scaleCeiling
}

// Unscale is the inverse of Scale.
func (p ScaleParams) Unscale(v float64) float64 {
	return v/scaleCeiling*(p.Max-p.Min) + p.Min
}

// ScaleAll scales every value in vs.
func (p ScaleParams) ScaleAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = p.Scale(v)
	}
	return out
}

// UnscaleAll unscales every value in vs.
func (p ScaleParams) UnscaleAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = p.Unscale(v)
	}
	return out
}
