// Package client is a Go client for the search service HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/resilience"
)

var errRetryable = errors.New("retryable")

type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// New creates a client for the service at baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			Retryable:    func(err error) bool { return errors.Is(err, errRetryable) },
		},
	}
}

type SearchOptions struct {
	UseRerank bool
	// TopK is omitted from the request when zero.
	TopK int
}

func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*handler.SearchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("use_rerank", strconv.FormatBool(opts.UseRerank))
	if opts.TopK > 0 {
		params.Set("top_k", strconv.Itoa(opts.TopK))
	}
	var out handler.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RerankStatus(ctx context.Context) (*pipeline.ModelStatus, error) {
	var out pipeline.ModelStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/rerank/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RerankUnload releases the relevance model and reports whether it was loaded.
func (c *Client) RerankUnload(ctx context.Context) (bool, error) {
	var out struct {
		WasLoaded bool `json:"was_loaded"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/rerank/unload", &out); err != nil {
		return false, err
	}
	return out.WasLoaded, nil
}

// do sends one request, retrying transport errors and 5xx responses for GETs.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	call := func() error { return c.once(ctx, method, path, out) }
	if method != http.MethodGet {
		return call()
	}
	return resilience.Retry(ctx, "client "+path, c.retry, call)
}

func (c *Client) once(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", errRetryable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}

	sentinel := apperrors.ErrInternal
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		sentinel = apperrors.ErrInvalidInput
	case resp.StatusCode == http.StatusNotFound:
		sentinel = apperrors.ErrDocumentNotFound
	case resp.StatusCode == http.StatusServiceUnavailable:
		sentinel = apperrors.ErrModelUnavailable
	case resp.StatusCode == http.StatusGatewayTimeout:
		sentinel = apperrors.ErrTimeout
	}
	err := apperrors.Newf(sentinel, resp.StatusCode, "server returned %d: %s", resp.StatusCode, message)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", errRetryable, err)
	}
	return err
}
