// Package client provides an HTTP client for the service host API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HatiCode/gridservices/pkg/services"
)

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 reply.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ServiceHostClient talks to the service host's HTTP API.
// It is safe for concurrent use by multiple goroutines.
type ServiceHostClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewServiceHostClient creates a client for baseURL (e.g. "http://localhost:8080")
// with a 5 second request timeout.
func NewServiceHostClient(baseURL string) *ServiceHostClient {
	return NewServiceHostClientWithTimeout(baseURL, 5*time.Second)
}

// NewServiceHostClientWithTimeout creates a client with a custom timeout.
func NewServiceHostClientWithTimeout(baseURL string, timeout time.Duration) *ServiceHostClient {
	return &ServiceHostClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type listResponse struct {
	Services []services.Record `json:"services"`
}

// ListServices returns the registered services matching f.
func (c *ServiceHostClient) ListServices(ctx context.Context, f services.Filter) ([]services.Record, error) {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.AppID != "" {
		q.Set("appId", f.AppID)
	}
	if f.PlantID != "" {
		q.Set("plantId", f.PlantID)
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, q, nil, &resp, "services"); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// GetService returns the record of id.
func (c *ServiceHostClient) GetService(ctx context.Context, id string) (services.Record, error) {
	if id == "" {
		return services.Record{}, errors.New("service id cannot be empty")
	}
	var r services.Record
	err := c.do(ctx, http.MethodGet, nil, nil, &r, "services", id)
	return r, err
}

// GetConfig returns the stored configuration of id.
func (c *ServiceHostClient) GetConfig(ctx context.Context, id string) (services.Document, error) {
	if id == "" {
		return services.Document{}, errors.New("service id cannot be empty")
	}
	var doc services.Document
	err := c.do(ctx, http.MethodGet, nil, nil, &doc, "services", id, "config")
	return doc, err
}

// GetForecast returns the latest output of id.
func (c *ServiceHostClient) GetForecast(ctx context.Context, id string) (services.Output, error) {
	if id == "" {
		return services.Output{}, errors.New("service id cannot be empty")
	}
	var out services.Output
	err := c.do(ctx, http.MethodGet, nil, nil, &out, "services", id, "forecast")
	return out, err
}

// CreateService registers a new service from doc.
func (c *ServiceHostClient) CreateService(ctx context.Context, doc services.Document) (services.Record, error) {
	var r services.Record
	err := c.do(ctx, http.MethodPost, nil, doc, &r, "services")
	return r, err
}

// UpdateConfig replaces the configuration of id.
func (c *ServiceHostClient) UpdateConfig(ctx context.Context, id string, doc services.Document) error {
	if id == "" {
		return errors.New("service id cannot be empty")
	}
	return c.do(ctx, http.MethodPut, nil, doc, nil, "services", id, "config")
}

// DeleteService removes id.
func (c *ServiceHostClient) DeleteService(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("service id cannot be empty")
	}
	return c.do(ctx, http.MethodDelete, nil, nil, nil, "services", id)
}

func (c *ServiceHostClient) do(ctx context.Context, method string, q url.Values, body, out any, path ...string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(path...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
