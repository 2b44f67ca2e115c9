package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so no config file or .env leaks in.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "doc_index", cfg.Database.Collection)
	assert.Equal(t, "gemini-2.5-flash", cfg.Services.Gemini.Model)
	assert.InDelta(t, 0.5, cfg.Services.Gemini.Temperature, 1e-9)
	assert.InDelta(t, 0.1, cfg.Services.Gemini.JudgeTemperature, 1e-9)
	assert.Equal(t, 6, cfg.RAG.K)
	assert.Equal(t, 20, cfg.RAG.FetchK)
	assert.InDelta(t, 0.7, cfg.RAG.LambdaMult, 1e-9)
	assert.Equal(t, 4000, cfg.RAG.MaxContextChars)
	assert.True(t, cfg.RAG.JudgeEnabled)
	assert.Equal(t, 4, cfg.RAG.FaithfulnessMin)
	assert.Equal(t, 4, cfg.RAG.CompletenessMin)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Len(t, cfg.Server.CORSOrigins, 3)
	assert.Equal(t, 512, cfg.Ingest.ChunkSize)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Nil(t, cfg.GetTLSConfig())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_API_KEY", "legacy-key")
	t.Setenv("GEMINI_MODEL_NAME", "gemini-test")
	t.Setenv("CHROMA_PERSIST_DIR", "/tmp/chroma")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "legacy-key", cfg.Services.Gemini.APIKey)
	assert.Equal(t, "gemini-test", cfg.Services.Gemini.Model)
	assert.Equal(t, "/tmp/chroma", cfg.Database.ChromaDir)
	assert.NoError(t, cfg.RequireGemini())
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GOOGLE_API_KEY", "legacy-key")
	t.Setenv("HYDROCARE_SERVICES__GEMINI__API_KEY", "prefixed-key")
	t.Setenv("HYDROCARE_RAG__FETCH_K", "30")
	t.Setenv("HYDROCARE_SERVER__CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prefixed-key", cfg.Services.Gemini.APIKey)
	assert.Equal(t, 30, cfg.RAG.FetchK)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := chdirTemp(t)
	yaml := "server:\n  port: 9090\nsession:\n  backend: redis\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Session.Backend)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "HYDROCARE_DATABASE__DRIVER", "postgres"},
		{"unknown provider", "HYDROCARE_SERVICES__EMBEDDINGS__PROVIDER", "cohere"},
		{"unknown session backend", "HYDROCARE_SESSION__BACKEND", "memcached"},
		{"fetch_k below k", "HYDROCARE_RAG__FETCH_K", "2"},
		{"lambda out of range", "HYDROCARE_RAG__LAMBDA_MULT", "1.5"},
		{"judge threshold", "HYDROCARE_RAG__FAITHFULNESS_MIN", "9"},
		{"overlap too big", "HYDROCARE_INGEST__CHUNK_OVERLAP", "600"},
		{"tls without cert", "HYDROCARE_SERVER__TLS__ENABLED", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRequireGeminiWithoutKey(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireGemini())
}

func TestTransformEnv(t *testing.T) {
	key, val := transformEnv("HYDROCARE_SERVICES__REDIS__ADDR", "redis:6379")
	assert.Equal(t, "services.redis.addr", key)
	assert.Equal(t, "redis:6379", val)

	key, val = transformEnv("HYDROCARE_INGEST__SOURCES", "a.pdf,b.jsonl")
	assert.Equal(t, "ingest.sources", key)
	assert.Equal(t, []string{"a.pdf", "b.jsonl"}, val)
}
