// Package config provides application configuration management using koanf
package config

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore, e.g.
// HYDROCARE_SERVICES__GEMINI__MODEL.
const EnvPrefix = "HYDROCARE_"

// legacyEnv maps the older unprefixed variable names to config keys.
var legacyEnv = map[string]string{
	"GOOGLE_API_KEY":     "services.gemini.api_key",
	"GEMINI_MODEL_NAME":  "services.gemini.model",
	"CHROMA_PERSIST_DIR": "database.chroma_dir",
	"REDIS_ADDR":         "services.redis.addr",
}

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Services ServicesConfig `koanf:"services"`
	RAG      RAGConfig      `koanf:"rag"`
	Session  SessionConfig  `koanf:"session"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Security SecurityConfig `koanf:"security"`
	App      AppConfig      `koanf:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string    `koanf:"host"`
	Port         int       `koanf:"port"`
	ReadTimeout  int       `koanf:"read_timeout"`  // seconds
	WriteTimeout int       `koanf:"write_timeout"` // seconds
	TLS          TLSConfig `koanf:"tls"`
	CORSOrigins  []string  `koanf:"cors_origins"`
	MaxUploadMB  int       `koanf:"max_upload_mb"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	MinTLS   string `koanf:"min_version"` // "1.2" or "1.3"
}

// DatabaseConfig describes where the document index lives.
type DatabaseConfig struct {
	Driver     string `koanf:"driver"` // "sqlite", "chromem" or "memory"
	Path       string `koanf:"path"`
	ChromaDir  string `koanf:"chroma_dir"`
	Collection string `koanf:"collection"`
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	Gemini     GeminiConfig     `koanf:"gemini"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Redis      RedisConfig      `koanf:"redis"`
	Disease    DiseaseConfig    `koanf:"disease"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

// GeminiConfig holds the generative model settings
type GeminiConfig struct {
	APIKey           string  `koanf:"api_key"`
	Model            string  `koanf:"model"`
	Temperature      float64 `koanf:"temperature"`
	JudgeTemperature float64 `koanf:"judge_temperature"`
	Timeout          int     `koanf:"timeout"` // seconds
}

// EmbeddingsConfig selects the embedding provider
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // "gemini", "ollama" or "openai"
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	BatchSize int    `koanf:"batch_size"`
}

// RedisConfig holds the Redis connection used by the redis session backend
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DiseaseConfig enables the image analysis endpoint
type DiseaseConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// RAGConfig tunes retrieval, prompting and judging
type RAGConfig struct {
	K               int     `koanf:"k"`
	FetchK          int     `koanf:"fetch_k"`
	LambdaMult      float64 `koanf:"lambda_mult"`
	MaxContextChars int     `koanf:"max_context_chars"`
	SnippetChars    int     `koanf:"snippet_chars"`
	HistoryWindow   int     `koanf:"history_window"`
	JudgeEnabled    bool    `koanf:"judge_enabled"`
	FaithfulnessMin int     `koanf:"faithfulness_min"`
	CompletenessMin int     `koanf:"completeness_min"`
}

// SessionConfig selects where conversational memory is kept
type SessionConfig struct {
	Backend   string `koanf:"backend"` // "memory" or "redis"
	TTL       int    `koanf:"ttl"`     // minutes
	KeyPrefix string `koanf:"key_prefix"`
}

// IngestConfig drives the offline indexer
type IngestConfig struct {
	Sources      []string `koanf:"sources"`
	ChunkSize    int      `koanf:"chunk_size"`
	ChunkOverlap int      `koanf:"chunk_overlap"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	ErrorMode string `koanf:"error_mode"` // "detailed" or "secure"
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
	LogFile     string `koanf:"log_file"`
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables, including a .env file (highest precedence)
func Load() (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	setDefaults(k)
	loadConfigFiles(k)

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			if mapped, ok := legacyEnv[key]; ok {
				return mapped, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading legacy environment variables: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// transformEnv turns HYDROCARE_RAG__FETCH_K into rag.fetch_k.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if key == "server.cors_origins" || key == "ingest.sources" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		// Server defaults
		"server.host":            "127.0.0.1",
		"server.port":            8000,
		"server.read_timeout":    30,
		"server.write_timeout":   120,
		"server.tls.enabled":     false,
		"server.tls.min_version": "1.3",
		"server.cors_origins": []string{
			"http://127.0.0.1:5500",
			"http://localhost:5500",
			"http://127.0.0.1:8000",
		},
		"server.max_upload_mb": 10,

		// Index defaults
		"database.driver":     "sqlite",
		"database.path":       "index.db",
		"database.chroma_dir": "chroma",
		"database.collection": "doc_index",

		// Services defaults
		"services.gemini.model":             "gemini-2.5-flash",
		"services.gemini.temperature":       0.5,
		"services.gemini.judge_temperature": 0.1,
		"services.gemini.timeout":           60,
		"services.embeddings.provider":      "gemini",
		"services.embeddings.model":         "text-embedding-004",
		"services.embeddings.base_url":      "http://localhost:11434",
		"services.embeddings.batch_size":    32,
		"services.redis.addr":               "localhost:6379",
		"services.redis.db":                 0,
		"services.disease.enabled":          false,
		"services.disease.model":            "gemini-2.5-flash",
		"services.tracing.enabled":          false,
		"services.tracing.endpoint":         "localhost:4318",
		"services.tracing.service_name":     "hydrocare-rag",

		// Retrieval and judging defaults
		"rag.k":                 6,
		"rag.fetch_k":           20,
		"rag.lambda_mult":       0.7,
		"rag.max_context_chars": 4000,
		"rag.snippet_chars":     800,
		"rag.history_window":    10,
		"rag.judge_enabled":     true,
		"rag.faithfulness_min":  4,
		"rag.completeness_min":  4,

		// Session defaults
		"session.backend":    "memory",
		"session.ttl":        24 * 60,
		"session.key_prefix": "hydrocare:session:",

		// Ingest defaults
		"ingest.sources":       []string{"source_documents/combined_rag.pdf"},
		"ingest.chunk_size":    512,
		"ingest.chunk_overlap": 0,

		// Security defaults
		"security.error_mode": "detailed",

		// App defaults
		"app.environment": "development",
		"app.log_level":   "info",
		"app.log_format":  "text",
	}

	for key, value := range defaults {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf) {
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Printf("Warning: failed to load config.yaml: %v", err)
		}
	}

	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Printf("Warning: failed to load config.json: %v", err)
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
		if _, err := os.Stat(cfg.Server.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", cfg.Server.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.Server.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.Server.TLS.KeyFile)
		}
	}

	switch cfg.Database.Driver {
	case "sqlite", "chromem", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	switch cfg.Services.Embeddings.Provider {
	case "gemini", "ollama", "openai":
	default:
		return fmt.Errorf("unknown embeddings provider %q", cfg.Services.Embeddings.Provider)
	}

	switch cfg.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.RAG.K <= 0 || cfg.RAG.FetchK < cfg.RAG.K {
		return fmt.Errorf("rag.fetch_k (%d) must be >= rag.k (%d) > 0", cfg.RAG.FetchK, cfg.RAG.K)
	}
	if cfg.RAG.LambdaMult < 0 || cfg.RAG.LambdaMult > 1 {
		return fmt.Errorf("rag.lambda_mult must be within [0, 1], got %v", cfg.RAG.LambdaMult)
	}
	if cfg.RAG.FaithfulnessMin < 1 || cfg.RAG.FaithfulnessMin > 5 ||
		cfg.RAG.CompletenessMin < 1 || cfg.RAG.CompletenessMin > 5 {
		return fmt.Errorf("judge thresholds must be within 1-5")
	}

	if cfg.Ingest.ChunkSize <= 0 || cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("invalid chunking: size %d, overlap %d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}

	return nil
}

// RequireGemini reports an error when no Gemini API key is configured.
// The key is only needed by commands that call the model, so Load does not enforce it.
func (c *Config) RequireGemini() error {
	if c.Services.Gemini.APIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY not found in environment variables")
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetTLSConfig returns a TLS configuration based on the config
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.Server.TLS.Enabled {
		return nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}

	switch c.Server.TLS.MinTLS {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
