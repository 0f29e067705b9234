// Package expenseapi is the client for the remote expense REST API.
//
// Transport failures are reported as ErrUnreachable. Responses the server
// rejects are reported as *APIError carrying the server's message verbatim.
package expenseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"expensedesk/internal/core"
)

const (
	DefaultBaseURL = "http://localhost:5014/api"

	UnreachableMessage = "Unable to connect to the server. Please check if the backend is running."

	maxErrorBody = 64 << 10
)

var (
	ErrUnreachable = errors.New(UnreachableMessage)
	ErrNotFound    = errors.New("expense not found")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Unwrap lets callers test for ErrNotFound with errors.Is.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Page is one page of the server-side paginated list.
type Page struct {
	Items      []core.Expense
	TotalCount int
	PageNumber int
	PageSize   int
	TotalPages int
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: baseURL, http: newHTTPClientWithPooling()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newHTTPClientWithPooling creates an HTTP client with connection pooling
// and keep-alive for the single API host.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// List fetches one page. An empty search returns everything.
func (c *Client) List(ctx context.Context, page, pageSize int, search string) (Page, error) {
	q := url.Values{}
	q.Set("pageNumber", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if s := strings.TrimSpace(search); s != "" {
		q.Set("search", s)
	}
	var out pageDTO
	if err := c.do(ctx, http.MethodGet, "/Expenses?"+q.Encode(), nil, &out, "Failed to fetch expenses"); err != nil {
		return Page{}, err
	}
	p := Page{
		Items:      make([]core.Expense, 0, len(out.Items)),
		TotalCount: out.TotalCount,
		PageNumber: out.PageNumber,
		PageSize:   out.PageSize,
		TotalPages: out.TotalPages,
	}
	for _, d := range out.Items {
		p.Items = append(p.Items, fromDTO(d))
	}
	return p, nil
}

func (c *Client) GetByID(ctx context.Context, id int64) (core.Expense, error) {
	var out expenseDTO
	if err := c.do(ctx, http.MethodGet, expensePath(id), nil, &out, "Failed to fetch expense"); err != nil {
		return core.Expense{}, err
	}
	return fromDTO(out), nil
}

// Create posts a new expense. The id is not sent; the server assigns it.
func (c *Client) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	body := toDTO(e)
	body.ID = 0
	var out expenseDTO
	if err := c.do(ctx, http.MethodPost, "/Expenses", body, &out, "Failed to create expense"); err != nil {
		return core.Expense{}, err
	}
	return fromDTO(out), nil
}

// Update replaces the expense with the given id. Servers that answer 204
// yield the submitted expense back.
func (c *Client) Update(ctx context.Context, id int64, e core.Expense) (core.Expense, error) {
	e.ID = id
	var out *expenseDTO
	if err := c.do(ctx, http.MethodPut, expensePath(id), toDTO(e), &out, "Failed to update expense"); err != nil {
		return core.Expense{}, err
	}
	if out == nil {
		return e, nil
	}
	return fromDTO(*out), nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, expensePath(id), nil, nil, "Failed to delete expense")
}

// LatestDocumentNumber returns nil when no number was issued for date.
func (c *Client) LatestDocumentNumber(ctx context.Context, d core.Date) (*string, error) {
	q := url.Values{}
	q.Set("date", d.String())
	var out latestDTO
	if err := c.do(ctx, http.MethodGet, "/Expenses/LatestDocumentNumber?"+q.Encode(), nil, &out, "Failed to fetch latest document number"); err != nil {
		return nil, err
	}
	if out.DocumentNumber != nil && strings.TrimSpace(*out.DocumentNumber) == "" {
		return nil, nil
	}
	return out.DocumentNumber, nil
}

// Ping checks that the API answers at all. Any HTTP status counts as up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Expenses?pageNumber=1&pageSize=1", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func expensePath(id int64) string {
	return "/Expenses/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, fallback string) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "Expense API request failed", "method", method, "path", path, "error", err)
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	slog.DebugContext(ctx, "Expense API request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body, fallback)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("expense api: %w", ctxErr)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func errorMessage(r io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return fallback
	}
	var e errorDTO
	if json.Unmarshal(raw, &e) == nil {
		if m := strings.TrimSpace(e.Message); m != "" {
			return m
		}
		if t := strings.TrimSpace(e.Title); t != "" {
			return t
		}
	}
	return fallback
}
