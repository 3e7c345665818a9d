package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
)

// HTTPBackend talks to a cross-encoder service exposing a Cohere/Jina style
// POST /rerank endpoint. Loading probes the health path so the first scored
// request does not pay for an unreachable service.
type HTTPBackend struct {
	baseURL    string
	healthPath string
	model      string
	apiKey     string
	client     *http.Client
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func NewHTTPBackend(cfg config.RelevanceConfig) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		healthPath: cfg.HealthPath,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Describe() BackendInfo {
	return BackendInfo{Model: b.model, Endpoint: b.baseURL + "/rerank"}
}

func (b *HTTPBackend) Load(ctx context.Context) error {
	if b.healthPath == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+b.healthPath, nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", b.healthPath, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probing %s: status %d", b.healthPath, resp.StatusCode)
	}
	return nil
}

// Unload drops pooled connections to the service.
func (b *HTTPBackend) Unload(_ context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     b.model,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rerank service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank service status %d: %s", resp.StatusCode, respBody)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}
	// Results arrive sorted by relevance; map them back to input order.
	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, fmt.Errorf("rerank response has invalid index %d", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response is missing document %d", i)
		}
	}
	return scores, nil
}
