package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Search.DefaultTopK)
	assert.Equal(t, 200, cfg.Search.MaxTopK)
	assert.Equal(t, 16, cfg.Relevance.BatchSize)
	assert.Equal(t, 400, cfg.Relevance.MaxPairChars)
	assert.Equal(t, 32, cfg.Index.EmbedBatchSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
server:
  port: 9999
index:
  path: /tmp/idx/docs.index
  dimension: 384
search:
  defaultTopK: 20
  maxTopK: 50
relevance:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))
	t.Setenv("CLIR_RELEVANCE_URL", "http://reranker:9000")
	t.Setenv("CLIR_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/tmp/idx/docs.index", cfg.Index.Path)
	assert.Equal(t, 384, cfg.Index.Dimension)
	assert.Equal(t, 20, cfg.Search.DefaultTopK)
	assert.Equal(t, 5*time.Second, cfg.Relevance.Timeout)
	assert.Equal(t, "http://reranker:9000", cfg.Relevance.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing index path", func(c *Config) { c.Index.Path = "" }},
		{"zero dimension", func(c *Config) { c.Index.Dimension = 0 }},
		{"zero batch", func(c *Config) { c.Index.EmbedBatchSize = 0 }},
		{"memory backend without corpus", func(c *Config) { c.Index.CorpusPath = "" }},
		{"unknown backend", func(c *Config) { c.Documents.Backend = "sqlite" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "magic" }},
		{"default above max", func(c *Config) { c.Search.DefaultTopK = 500 }},
		{"default below one", func(c *Config) { c.Search.DefaultTopK = 0 }},
		{"zero rerank batch", func(c *Config) { c.Relevance.BatchSize = 0 }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), apperrors.ErrConfig)
		})
	}
}
