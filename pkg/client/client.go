// Package client provides the SkyLink Go SDK for aircraft and ground
// stations talking to the gateway: token exchange over mTLS, telemetry
// ingestion, and the data endpoints.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrConflict is returned by IngestTelemetry when the gateway already holds
// the event id with a different payload. The submission will never succeed;
// the caller must use a new event id.
var ErrConflict = errors.New("event already recorded with a different payload")

// IngestResult reports the outcome of one telemetry submission.
type IngestResult struct {
	Status  string `json:"status"` // "created" or "duplicate"
	EventID string `json:"event_id"`
}

// WeatherReport mirrors the gateway's weather response.
type WeatherReport struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Conditions  string  `json:"conditions"`
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"wind_speed"`
	WindHeading float64 `json:"wind_heading"`
	Visibility  float64 `json:"visibility"`
}

// Contact mirrors the gateway's ground-station directory entry.
type Contact struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Callsign  string  `json:"callsign"`
	Frequency float64 `json:"frequency"`
	Region    string  `json:"region"`
}

// APIError is a non-2xx gateway response, decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client is the SkyLink SDK entry point.
type Client struct {
	gatewayBase string
	httpClient  *http.Client

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	role        string
	secret      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained token to every request. The token
// is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithRole sets the role requested on token exchange. Identities with a
// provisioned role get that role regardless of the request.
func WithRole(role string) Option {
	return func(c *Client) error {
		c.role = role
		return nil
	}
}

// WithBootstrapSecret sets the fleet bootstrap secret sent on token exchange.
func WithBootstrapSecret(secret string) Option {
	return func(c *Client) error {
		c.secret = secret
		return nil
	}
}

// WithMTLS configures the client for mutual TLS using PEM-encoded material.
// certPEM and keyPEM identify the aircraft; caPEM verifies the gateway.
func WithMTLS(certPEM, keyPEM, caPEM string) Option {
	return func(c *Client) error {
		clientCert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
		if err != nil {
			return fmt.Errorf("parse mTLS cert/key: %w", err)
		}

		pool := x509.NewCertPool()
		if caPEM != "" {
			if !pool.AppendCertsFromPEM([]byte(caPEM)) {
				return fmt.Errorf("failed to parse CA certificate PEM")
			}
		}

		c.httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{clientCert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
			}},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally generated CA.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client connected to gatewayBase.
//
//	c, err := client.New("https://gateway.skylink.aero:8443",
//	    client.WithMTLS(certPEM, keyPEM, caPEM),
//	)
func New(gatewayBase string, opts ...Option) (*Client, error) {
	c := &Client{
		gatewayBase: gatewayBase,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(gatewayBase string, opts ...Option) *Client {
	c, err := New(gatewayBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ObtainToken exchanges the client's mTLS identity for an access token,
// caches it, and returns it. Subsequent requests reuse the cached token
// until it approaches expiry.
func (c *Client) ObtainToken(ctx context.Context) (string, error) {
	token, expiry, err := c.obtainTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// obtainTokenRaw fetches a fresh token without touching cached state. It uses
// the raw httpClient so no existing bearer token rides on the exchange; the
// token endpoint authenticates via mTLS.
func (c *Client) obtainTokenRaw(ctx context.Context) (string, time.Time, error) {
	payload, _ := json.Marshal(map[string]string{"role": c.role, "secret": c.secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.gatewayBase+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, decodeAPIError(resp.StatusCode, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Refresh 30 s before actual expiry to absorb clock skew.
	const refreshBuffer = 30 * time.Second
	exp := time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - refreshBuffer)
	return out.AccessToken, exp, nil
}

// ensureToken returns a valid bearer token, fetching a new one when the
// cached token is absent or approaching expiry. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}

	token, expiry, err := c.obtainTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// IngestTelemetry submits one telemetry event. The event must be a JSON
// object matching the gateway's telemetry contract. On 201 the status is
// "created"; on 200 it is "duplicate" and the event was already recorded
// identically. A 409 returns ErrConflict.
func (c *Client) IngestTelemetry(ctx context.Context, event any) (*IngestResult, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/telemetry/ingest", event)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		var result IngestResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode ingest response: %w", err)
		}
		return &result, nil
	case http.StatusConflict:
		return nil, ErrConflict
	default:
		return nil, decodeAPIError(status, body)
	}
}

// ListEvents returns the most recent telemetry events for an aircraft.
// Requires the telemetry:read permission.
func (c *Client) ListEvents(ctx context.Context, aircraftID string, limit int) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/v1/telemetry/events/%s?limit=%d", aircraftID, limit)
	status, body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeAPIError(status, body)
	}
	return body, nil
}

// GetWeather returns current conditions at a position.
func (c *Client) GetWeather(ctx context.Context, lat, lon float64) (*WeatherReport, error) {
	path := fmt.Sprintf("/api/v1/weather/current?lat=%g&lon=%g", lat, lon)
	status, body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeAPIError(status, body)
	}

	var report WeatherReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}
	return &report, nil
}

// ListContacts returns a page of the ground-station directory.
// Requires the contacts:read permission.
func (c *Client) ListContacts(ctx context.Context, page, size int) ([]Contact, int, error) {
	path := fmt.Sprintf("/api/v1/contacts?page=%d&size=%d", page, size)
	status, body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	if status != http.StatusOK {
		return nil, 0, decodeAPIError(status, body)
	}

	var out struct {
		Items []Contact `json:"items"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, 0, fmt.Errorf("decode contacts response: %w", err)
	}
	return out.Items, out.Total, nil
}

// Health checks the gateway's public health endpoint. No authentication.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayBase+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12)) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

// doJSON executes an authenticated request and returns the status and body.
// Transport failures return an error; HTTP error statuses do not, so callers
// can interpret them.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any) (int, []byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.gatewayBase+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.ensureToken(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// decodeAPIError converts an error body into an *APIError, falling back to
// the raw body when it is not the standard envelope.
func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return &APIError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: status, Code: "UNKNOWN", Message: string(body)}
}
