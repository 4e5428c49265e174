package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/dnsrest/pkg/api"
	"github.com/cuemby/dnsrest/pkg/events"
)

// DefaultAddr is the admin API address the CLI talks to by default
const DefaultAddr = "http://127.0.0.1:8053"

// Client wraps the dnsrest admin API for easy CLI usage
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the admin API at addr. A bare host:port is
// treated as http.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetMapping returns the domains mapped to a container. label is "name" or "id".
func (c *Client) GetMapping(ctx context.Context, label, arg string) ([]string, error) {
	var resp api.RecordResponse
	if err := c.do(ctx, http.MethodGet, containerPath(label, arg), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// PutMapping maps a container to domains
func (c *Client) PutMapping(ctx context.Context, label, arg string, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	return c.do(ctx, http.MethodPut, containerPath(label, arg), api.ContainerRequest{Domains: &domains}, nil)
}

// DeleteMapping removes a container mapping
func (c *Client) DeleteMapping(ctx context.Context, label, arg string) error {
	return c.do(ctx, http.MethodDelete, containerPath(label, arg), nil, nil)
}

// GetStatic returns the static addresses of a domain
func (c *Client) GetStatic(ctx context.Context, domain string) ([]string, error) {
	var resp api.RecordResponse
	if err := c.do(ctx, http.MethodGet, domainPath(domain), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// PutStatic adds static addresses to a domain
func (c *Client) PutStatic(ctx context.Context, domain string, ips []string) error {
	if ips == nil {
		ips = []string{}
	}
	return c.do(ctx, http.MethodPut, domainPath(domain), api.DomainRequest{IPs: &ips}, nil)
}

// DeleteStatic removes every static address of a domain
func (c *Client) DeleteStatic(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, domainPath(domain), nil, nil)
}

// Dump returns the diagnostic dump of the domain tree
func (c *Client) Dump(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/debug", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}
	return body, nil
}

// Watch calls fn for every lifecycle event the server applies until ctx is
// done or the stream ends
func (c *Client) Watch(ctx context.Context, fn func(*events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// The shared client timeout would cut the stream
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		fn(&e)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is a non-success reply from the admin API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

func decodeError(resp *http.Response) error {
	var r api.Response
	_ = json.NewDecoder(resp.Body).Decode(&r)
	return &APIError{StatusCode: resp.StatusCode, Message: r.Message}
}

func containerPath(label, arg string) string {
	return "/container/" + url.PathEscape(label) + "/" + url.PathEscape(arg)
}

func domainPath(domain string) string {
	return "/domain/" + url.PathEscape(domain)
}
