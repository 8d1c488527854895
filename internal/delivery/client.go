// Package delivery sends registration, metrics, heartbeats and inventory
// to the collection service with bounded exponential-backoff retries.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/hostagent/internal/clock"
	"github.com/HerbHall/hostagent/internal/metrics"
	"github.com/HerbHall/hostagent/internal/version"
	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// maxBackoff caps the wait between attempts.
const maxBackoff = 5 * time.Minute

// Request headers.
const (
	HeaderAgentKey       = "X-Agent-Key"
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

type operation struct {
	name   string // used in error messages
	path   string
	metric string // metrics label
}

var (
	opRegister   = operation{"register host", "/api/infrastructure/hosts", "register"}
	opMetrics    = operation{"send metrics", "/api/infrastructure/metrics", "metrics"}
	opHeartbeat  = operation{"send heartbeat", "/api/infrastructure/heartbeat", "heartbeat"}
	opContainers = operation{"send containers", "/api/infrastructure/containers", "containers"}
	opProcesses  = operation{"send processes", "/api/infrastructure/processes", "processes"}
)

// Config configures the client.
type Config struct {
	BaseURL  string
	AgentKey string
	TenantID string

	// MaxAttempts is the total number of tries per operation; values
	// below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt. It doubles for
	// every further attempt.
	BaseDelay time.Duration
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// Compress gzips request bodies.
	Compress bool
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock sets the clock used for backoff waits and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the collection service. It holds no mutable state
// and is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a client. BaseURL must be an absolute http(s) URL.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		clock:   clock.Real(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type registerRequest struct {
	models.HostRegistration
	TenantID string `json:"tenant_id"`
}

type registerResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Register registers the host and returns the assigned resource id.
func (c *Client) Register(ctx context.Context, reg models.HostRegistration) (string, error) {
	body := registerRequest{HostRegistration: reg, TenantID: c.cfg.TenantID}

	var id string
	err := c.retry(ctx, opRegister, func(ctx context.Context) error {
		var resp registerResponse
		if err := c.post(ctx, opRegister, body, nil, &resp); err != nil {
			return err
		}
		if resp.Data.ID == "" {
			return errors.New("response carried no resource id")
		}
		id = resp.Data.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

type metricsRequest struct {
	TenantID   string            `json:"tenant_id"`
	ResourceID string            `json:"resource_id"`
	Metrics    []models.Snapshot `json:"metrics"`
}

// SendMetrics delivers a batch of snapshots. Every attempt of one call
// carries the same idempotency key so the server can drop duplicates.
func (c *Client) SendMetrics(ctx context.Context, resourceID string, batch []models.Snapshot) error {
	if batch == nil {
		batch = []models.Snapshot{}
	}
	body := metricsRequest{TenantID: c.cfg.TenantID, ResourceID: resourceID, Metrics: batch}
	headers := http.Header{HeaderIdempotencyKey: []string{uuid.NewString()}}

	return c.retry(ctx, opMetrics, func(ctx context.Context) error {
		return c.post(ctx, opMetrics, body, headers, nil)
	})
}

type heartbeatRequest struct {
	ResourceID string `json:"resource_id"`
	TenantID   string `json:"tenant_id"`
	Timestamp  string `json:"timestamp"`
}

// SendHeartbeat signals that the host is alive.
func (c *Client) SendHeartbeat(ctx context.Context, resourceID string) error {
	body := heartbeatRequest{
		ResourceID: resourceID,
		TenantID:   c.cfg.TenantID,
		Timestamp:  models.FormatTimestamp(c.clock.Now()),
	}
	return c.retry(ctx, opHeartbeat, func(ctx context.Context) error {
		return c.post(ctx, opHeartbeat, body, nil, nil)
	})
}

type containersRequest struct {
	HostID     string             `json:"host_id"`
	Hostname   string             `json:"hostname"`
	TenantID   string             `json:"tenant_id"`
	Containers []models.Container `json:"containers"`
}

// SendContainers delivers the container inventory.
func (c *Client) SendContainers(ctx context.Context, hostID, hostname string, containers []models.Container) error {
	if containers == nil {
		containers = []models.Container{}
	}
	body := containersRequest{HostID: hostID, Hostname: hostname, TenantID: c.cfg.TenantID, Containers: containers}
	return c.retry(ctx, opContainers, func(ctx context.Context) error {
		return c.post(ctx, opContainers, body, nil, nil)
	})
}

type processesRequest struct {
	HostID      string           `json:"host_id"`
	TenantID    string           `json:"tenant_id"`
	CollectedAt string           `json:"collected_at"`
	Processes   []models.Process `json:"processes"`
}

// SendProcesses delivers the process inventory.
func (c *Client) SendProcesses(ctx context.Context, hostID string, processes []models.Process) error {
	if processes == nil {
		processes = []models.Process{}
	}
	body := processesRequest{
		HostID:      hostID,
		TenantID:    c.cfg.TenantID,
		CollectedAt: models.FormatTimestamp(c.clock.Now()),
		Processes:   processes,
	}
	return c.retry(ctx, opProcesses, func(ctx context.Context) error {
		return c.post(ctx, opProcesses, body, nil, nil)
	})
}

// backoff returns the wait after attempt n: BaseDelay * 2^(n-1), capped
// at maxBackoff.
func (c *Client) backoff(n int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// retry runs attempt up to MaxAttempts times. The wait before attempt
// n+1 is BaseDelay * 2^(n-1), capped at five minutes. The returned OpError wraps the last
// attempt's error.
func (c *Client) retry(ctx context.Context, op operation, attempt func(context.Context) error) error {
	var lastErr error
	n := 1
	for ; ; n++ {
		c.metrics.DeliveryAttempt(op.metric)
		lastErr = attempt(ctx)
		if lastErr == nil {
			c.metrics.DeliveryResult(op.metric, nil)
			if n > 1 {
				c.logger.Info("request succeeded after retry",
					zap.String("operation", op.name),
					zap.Int("attempt", n),
				)
			}
			return nil
		}
		if n >= c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(n)
		c.logger.Warn("request failed, retrying",
			zap.String("operation", op.name),
			zap.Int("attempt", n),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			c.metrics.DeliveryResult(op.metric, ctx.Err())
			return &OpError{Op: op.name, Attempts: n, Err: ctx.Err()}
		case <-c.clock.After(delay):
		}
	}

	c.metrics.DeliveryResult(op.metric, lastErr)
	return &OpError{Op: op.name, Attempts: n, Err: lastErr}
}

// post performs one HTTP attempt and classifies its failure.
func (c *Client) post(ctx context.Context, op operation, body any, headers http.Header, out any) error {
	payload, err := c.encode(body)
	if err != nil {
		return &RequestError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+op.path, bytes.NewReader(payload))
	if err != nil {
		return &RequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(HeaderAgentKey, c.cfg.AgentKey)
	req.Header.Set(HeaderTenantID, c.cfg.TenantID)
	if c.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NoResponseError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) encode(body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if !c.cfg.Compress {
		return payload, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	return buf.Bytes(), nil
}
