package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

const (
	defaultCloudTimeout = 10 * time.Second
	maxResponseBytes    = 1 << 20
)

// HeaderFunc produces the authentication headers for one cloud request.
type HeaderFunc func() (map[string]string, error)

// CloudConfig configures a CloudClient.
type CloudConfig struct {
	// BaseURL is the API root, e.g. "https://api.switch-bot.com/v1.1".
	BaseURL string

	// Timeout bounds one HTTP round trip. Zero uses 10s.
	Timeout time.Duration

	// RateLimit is the sustained request rate per second. Zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter bucket size.
	RateBurst int

	// Headers supplies signed authentication headers.
	Headers HeaderFunc

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// CloudClient talks to the vendor REST API. One client is shared by every
// device; the rate limiter is account-wide.
//
// Success needs both layers to agree: the HTTP status and the statusCode in
// the JSON envelope must each be 100 or 200.
type CloudClient struct {
	baseURL string
	http    *http.Client
	headers HeaderFunc
	limiter *rate.Limiter

	logger Logger
	mu     sync.RWMutex
}

// cloudEnvelope is the vendor response wrapper.
type cloudEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

// NewCloudClient creates a cloud adapter.
//
// Parameters:
//   - cfg: Endpoint, timeout, rate limit and credential source
//
// Returns:
//   - *CloudClient: Ready-to-use client
//   - error: If BaseURL is not a valid absolute URL or Headers is nil
func NewCloudClient(cfg CloudConfig) (*CloudClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid cloud base url %q", cfg.BaseURL)
	}
	if cfg.Headers == nil {
		return nil, ErrNoCredentials
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCloudTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &CloudClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    client,
		headers: cfg.Headers,
		limiter: limiter,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the client.
func (c *CloudClient) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *CloudClient) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// FetchState implements Adapter with GET {base}/devices/{id}/status.
func (c *CloudClient) FetchState(ctx context.Context, id device.Identity) (RawStatus, error) {
	env, err := c.do(ctx, http.MethodGet, c.devicePath(id, "status"), nil)
	if err != nil {
		return RawStatus{}, err
	}

	fields := map[string]any{}
	if len(env.Body) > 0 && string(env.Body) != "null" {
		if err := json.Unmarshal(env.Body, &fields); err != nil {
			return RawStatus{}, &StatusError{
				HTTPStatus:   http.StatusOK,
				VendorStatus: env.StatusCode,
				Message:      "status body is not an object",
				Kind:         ErrVendorRejected,
			}
		}
	}

	return RawStatus{Source: NameCloud, Fields: fields, ReceivedAt: time.Now()}, nil
}

// SendCommand implements Adapter with POST {base}/devices/{id}/commands.
func (c *CloudClient) SendCommand(ctx context.Context, id device.Identity, cmd Command) (Ack, error) {
	env, err := c.do(ctx, http.MethodPost, c.devicePath(id, "commands"), cmd)
	if err != nil {
		return Ack{}, err
	}
	return Ack{StatusCode: env.StatusCode, Message: env.Message, Attempts: 1, Transport: NameCloud}, nil
}

// SetupWebhook registers url as the account's event receiver for all devices.
func (c *CloudClient) SetupWebhook(ctx context.Context, webhookURL string) error {
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/webhook/setupWebhook", map[string]string{
		"action":     "setupWebhook",
		"url":        webhookURL,
		"deviceList": "ALL",
	})
	return err
}

// QueryWebhook returns the currently registered webhook URLs.
func (c *CloudClient) QueryWebhook(ctx context.Context) ([]string, error) {
	env, err := c.do(ctx, http.MethodPost, c.baseURL+"/webhook/queryWebhook", map[string]string{
		"action": "queryUrl",
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		URLs []string `json:"urls"`
	}
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decoding webhook list: %w", err)
		}
	}
	return body.URLs, nil
}

// DeleteWebhook removes a registered webhook URL.
func (c *CloudClient) DeleteWebhook(ctx context.Context, webhookURL string) error {
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/webhook/deleteWebhook", map[string]string{
		"action": "deleteWebhook",
		"url":    webhookURL,
	})
	return err
}

func (c *CloudClient) devicePath(id device.Identity, action string) string {
	return c.baseURL + "/devices/" + url.PathEscape(id.ID) + "/" + action
}

// do performs one request and applies the dual status check.
func (c *CloudClient) do(ctx context.Context, method, endpoint string, payload any) (cloudEnvelope, error) {
	var env cloudEnvelope

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return env, fmt.Errorf("%w: rate limiter: %w", ErrTransportTimeout, err)
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return env, fmt.Errorf("building request: %w", err)
	}
	headers, err := c.headers()
	if err != nil {
		return env, fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf8")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return env, fmt.Errorf("%w: %s %s: %w", ErrTransportTimeout, method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return env, fmt.Errorf("%w: reading response: %w", ErrTransportTimeout, err)
	}

	c.getLogger().Debug("cloud request",
		"method", method,
		"endpoint", endpoint,
		"http_status", resp.StatusCode,
		"duration", time.Since(start).String(),
	)

	// A body that does not parse leaves StatusCode at 0, which fails the
	// vendor check below.
	_ = json.Unmarshal(raw, &env) //nolint:errcheck // Classified via StatusCode

	if !successCode(resp.StatusCode) || !successCode(env.StatusCode) {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return env, classifyStatus(resp.StatusCode, env.StatusCode, msg)
	}

	return env, nil
}
