package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/resilience"
)

// errRetryable marks transport failures and 5xx responses.
var errRetryable = errors.New("retryable")

// HTTPClient calls an OpenAI-compatible /v1/embeddings endpoint.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewHTTPClient creates a client for the embedding service at cfg.URL.
func NewHTTPClient(cfg config.EmbeddingConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.ErrConfig, 0, "embedding.url is required for the http provider")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable:    func(err error) bool { return errors.Is(err, errRetryable) },
		},
		logger: slog.Default().With("component", "embedding-http", "model", cfg.Model),
	}, nil
}

// EmbedDocuments embeds texts in one request and returns vectors in input order.
func (c *HTTPClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := resilience.Retry(ctx, "embed-documents", c.retry, func() error {
		var err error
		vectors, err = c.embed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *HTTPClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", apperrors.ErrInvalidInput)
	}
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Close is a no-op; the client holds no resources beyond idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingFailure, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrEmbeddingFailure, errRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %w: status %d: %s", apperrors.ErrEmbeddingFailure, errRetryable, resp.StatusCode, respBody)
		}
		return nil, fmt.Errorf("%w: status %d: %s", apperrors.ErrEmbeddingFailure, resp.StatusCode, respBody)
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", apperrors.ErrEmbeddingFailure, err)
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	if err := checkDimensions(vectors, len(texts)); err != nil {
		return nil, err
	}
	c.logger.Debug("embedded batch", "inputs", len(texts), "dim", len(vectors[0]))
	return vectors, nil
}
