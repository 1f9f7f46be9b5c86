package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the HTTP client for the tgwatch admin API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Monitor is an active subscription
type Monitor struct {
	Phone       string    `json:"phone"`
	AccountID   int64     `json:"account_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Filters     int       `json:"filters"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Session is a saved credential
type Session struct {
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter is a stored filter
type Filter struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func ownerPath(owner int64) string {
	return fmt.Sprintf("/api/owners/%d", owner)
}

// ListMonitors lists the owner's active monitors
func (c *Client) ListMonitors(ctx context.Context, owner int64) ([]Monitor, error) {
	var result struct {
		Monitors []Monitor `json:"monitors"`
	}
	if err := c.do(ctx, http.MethodGet, ownerPath(owner)+"/monitors", nil, &result); err != nil {
		return nil, err
	}
	return result.Monitors, nil
}

// ListSessions lists the owner's saved sessions
func (c *Client) ListSessions(ctx context.Context, owner int64) ([]Session, error) {
	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, ownerPath(owner)+"/sessions", nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// ListFilters lists the filters of one credential
func (c *Client) ListFilters(ctx context.Context, owner int64, phone string) ([]Filter, error) {
	var result struct {
		Filters []Filter `json:"filters"`
	}
	path := ownerPath(owner) + "/filters?phone=" + url.QueryEscape(phone)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Filters, nil
}

// AddFilter adds a filter to a monitored credential
func (c *Client) AddFilter(ctx context.Context, owner int64, phone, kind, value string) (*Filter, error) {
	body := map[string]string{"phone": phone, "kind": kind, "value": value}
	var result struct {
		Filter Filter `json:"filter"`
	}
	if err := c.do(ctx, http.MethodPost, ownerPath(owner)+"/filters", body, &result); err != nil {
		return nil, err
	}
	return &result.Filter, nil
}

// StopMonitor detaches a monitored credential
func (c *Client) StopMonitor(ctx context.Context, owner int64, phone string) error {
	return c.do(ctx, http.MethodDelete, ownerPath(owner)+"/monitors/"+url.PathEscape(phone), nil, nil)
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
