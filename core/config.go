package core

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration options shared by the five services
// (gateway, orchestrator, analyzer, evaluator, generator). It supports
// three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("orchestrator"),
//	    WithPort(8080),
//	)
type Config struct {
	Name    string `json:"name" env:"SRAL_SERVICE_NAME"`
	ID      string `json:"id" env:"SRAL_SERVICE_ID"`
	Port    int    `json:"port" env:"SRAL_PORT" default:"8080"`
	Address string `json:"address" env:"SRAL_ADDRESS"`

	HTTP        HTTPConfig        `json:"http"`
	LLM         LLMConfig         `json:"llm"`
	Blob        BlobConfig        `json:"blob"`
	Persistence PersistenceConfig `json:"persistence"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Analyzer    AnalyzerConfig    `json:"analyzer"`
	Resilience  ResilienceConfig  `json:"resilience"`
	Logging     LoggingConfig     `json:"logging"`
	Development DevelopmentConfig `json:"development"`
	Telemetry   TelemetryConfig   `json:"telemetry"`

	// Peer base URLs this service calls out to. Each service only needs a subset.
	Peers PeerConfig `json:"peers"`

	logger Logger `json:"-"`
}

// HTTPConfig contains HTTP server configuration including timeouts and CORS.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout" env:"SRAL_HTTP_READ_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"SRAL_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"SRAL_HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"SRAL_HTTP_IDLE_TIMEOUT" default:"120s"`
	MaxHeaderBytes    int           `json:"max_header_bytes" env:"SRAL_HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"SRAL_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	EnableHealthCheck bool          `json:"enable_health_check" env:"SRAL_HTTP_HEALTH_CHECK" default:"true"`
	HealthCheckPath   string        `json:"health_check_path" env:"SRAL_HTTP_HEALTH_PATH" default:"/health"`
	CORS              CORSConfig    `json:"cors"`
	Middleware        []func(http.Handler) http.Handler `json:"-"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"SRAL_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"SRAL_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"SRAL_CORS_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"SRAL_CORS_HEADERS" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers" env:"SRAL_CORS_EXPOSED_HEADERS"`
	AllowCredentials bool     `json:"allow_credentials" env:"SRAL_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"SRAL_CORS_MAX_AGE" default:"86400"`
}

// LLMConfig configures the language-model client shared by Generator, Evaluator
// (llm_evaluation test) and Analyzer (learnings synthesis).
type LLMConfig struct {
	Enabled       bool          `json:"enabled" env:"SRAL_LLM_ENABLED" default:"true"`
	Provider      string        `json:"provider" env:"SRAL_LLM_PROVIDER" default:"openai"`
	APIKey        string        `json:"api_key" env:"SRAL_LLM_API_KEY,OPENAI_API_KEY"`
	BaseURL       string        `json:"base_url" env:"SRAL_LLM_BASE_URL"`
	Model         string        `json:"model" env:"SRAL_LLM_MODEL" default:"gpt-4o-mini"`
	Temperature   float32       `json:"temperature" env:"SRAL_LLM_TEMPERATURE" default:"0.7"`
	MaxTokens     int           `json:"max_tokens" env:"SRAL_LLM_MAX_TOKENS" default:"2000"`
	Timeout       time.Duration `json:"timeout" env:"SRAL_LLM_TIMEOUT" default:"30s"`
	RetryAttempts int           `json:"retry_attempts" env:"SRAL_LLM_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `json:"retry_delay" env:"SRAL_LLM_RETRY_DELAY" default:"1s"`
	Mock          bool          `json:"mock" env:"SRAL_LLM_MOCK" default:"false"`
}

// BlobConfig configures the filesystem-backed blob store.
type BlobConfig struct {
	RootDir string `json:"root_dir" env:"SRAL_BLOB_ROOT" default:"./data/blobs"`
}

// PersistenceConfig configures the Orchestrator's durable state store.
type PersistenceConfig struct {
	SQLitePath  string `json:"sqlite_path" env:"SRAL_DB_PATH" default:"./data/orchestrator.db"`
	StateDir    string `json:"state_dir" env:"SRAL_STATE_DIR" default:"./data/state"`
}

// OrchestratorConfig configures the wave state machine's tunables (spec §6/§9).
type OrchestratorConfig struct {
	UnitPriceUSD             float64       `json:"unit_price_usd" env:"SRAL_UNIT_PRICE_USD" default:"0.000002"`
	DefaultTokensPerArtifact int           `json:"default_tokens_per_artifact" env:"SRAL_DEFAULT_TOKENS_PER_ARTIFACT" default:"2000"`
	GeneratorCountPerWave    int           `json:"generator_count_per_wave" env:"SRAL_GENERATOR_COUNT" default:"4"`
	GenerationTimeout        time.Duration `json:"generation_timeout" env:"SRAL_T_GEN" default:"180s"`
	AnalysisTimeout          time.Duration `json:"analysis_timeout" env:"SRAL_T_ANA" default:"300s"`
	MaxRetries               int           `json:"max_retries" env:"SRAL_MAX_RETRIES" default:"2"`
	ViabilityThreshold       float64       `json:"viability_threshold" env:"SRAL_VIABILITY_THRESHOLD" default:"80"`
}

// AnalyzerConfig configures the Analyzer's fan-out behavior.
type AnalyzerConfig struct {
	EvaluationConcurrency int `json:"evaluation_concurrency" env:"SRAL_ANALYZER_CONCURRENCY" default:"16"`
}

// PeerConfig holds the static base URLs this system's components call.
// Non-goal: distributed consensus across replicas — every project is owned by
// exactly one Orchestrator instance, addressed by a fixed URL.
type PeerConfig struct {
	GatewayURL      string `json:"gateway_url" env:"SRAL_GATEWAY_URL" default:"http://localhost:8080"`
	OrchestratorURL string `json:"orchestrator_url" env:"SRAL_ORCHESTRATOR_URL" default:"http://localhost:8081"`
	AnalyzerURL     string `json:"analyzer_url" env:"SRAL_ANALYZER_URL" default:"http://localhost:8082"`
	EvaluatorURL    string `json:"evaluator_url" env:"SRAL_EVALUATOR_URL" default:"http://localhost:8083"`
	GeneratorURL    string `json:"generator_url" env:"SRAL_GENERATOR_URL" default:"http://localhost:8084"`
}

// ResilienceConfig contains fault-tolerance settings for outbound dispatch.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"SRAL_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"SRAL_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"SRAL_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"SRAL_CB_HALF_OPEN" default:"3"`
}

// RetryConfig defines retry pattern settings with exponential backoff.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval).
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"SRAL_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"SRAL_RETRY_INITIAL_INTERVAL" default:"500ms"`
	MaxInterval     time.Duration `json:"max_interval" env:"SRAL_RETRY_MAX_INTERVAL" default:"10s"`
	Multiplier      float64       `json:"multiplier" env:"SRAL_RETRY_MULTIPLIER" default:"2.0"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"SRAL_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"SRAL_LOG_FORMAT" default:"text"`
}

// TelemetryConfig controls OpenTelemetry tracing for outbound/inbound HTTP.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"SRAL_TELEMETRY_ENABLED" default:"false"`
	ServiceName string `json:"service_name" env:"SRAL_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	Endpoint    string `json:"endpoint" env:"SRAL_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"SRAL_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"SRAL_DEBUG" default:"false"`
}

// Option is a functional option for configuring a service.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "sral-service",
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   10 * time.Second,
			EnableHealthCheck: true,
			HealthCheckPath:   "/health",
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     2000,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Blob: BlobConfig{
			RootDir: "./data/blobs",
		},
		Persistence: PersistenceConfig{
			SQLitePath: "./data/orchestrator.db",
			StateDir:   "./data/state",
		},
		Orchestrator: OrchestratorConfig{
			UnitPriceUSD:             0.000002,
			DefaultTokensPerArtifact: 2000,
			GeneratorCountPerWave:    4,
			GenerationTimeout:        180 * time.Second,
			AnalysisTimeout:          300 * time.Second,
			MaxRetries:               2,
			ViabilityThreshold:       80,
		},
		Analyzer: AnalyzerConfig{
			EvaluationConcurrency: 16,
		},
		Peers: PeerConfig{
			GatewayURL:      "http://localhost:8080",
			OrchestratorURL: "http://localhost:8081",
			AnalyzerURL:     "http://localhost:8082",
			EvaluatorURL:    "http://localhost:8083",
			GeneratorURL:    "http://localhost:8084",
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				Multiplier:      2.0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv overlays environment variables onto the config. Environment
// variables take precedence over defaults but are overridden by functional
// options applied afterward via NewConfig.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SRAL_SERVICE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("SRAL_SERVICE_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("SRAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		} else {
			return fmt.Errorf("invalid SRAL_PORT %q: %w", v, err)
		}
	}
	if v := os.Getenv("SRAL_ADDRESS"); v != "" {
		c.Address = v
	}

	if v := os.Getenv("SRAL_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("SRAL_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("SRAL_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("SRAL_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
	}

	if v := os.Getenv("SRAL_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("SRAL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SRAL_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("SRAL_LLM_MOCK"); v != "" {
		c.LLM.Mock = parseBool(v)
	}
	if v := os.Getenv("SRAL_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LLM.Timeout = d
		}
	}

	if v := os.Getenv("SRAL_BLOB_ROOT"); v != "" {
		c.Blob.RootDir = v
	}
	if v := os.Getenv("SRAL_DB_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}
	if v := os.Getenv("SRAL_STATE_DIR"); v != "" {
		c.Persistence.StateDir = v
	}

	if v := os.Getenv("SRAL_UNIT_PRICE_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestrator.UnitPriceUSD = f
		}
	}
	if v := os.Getenv("SRAL_DEFAULT_TOKENS_PER_ARTIFACT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.DefaultTokensPerArtifact = n
		}
	}
	if v := os.Getenv("SRAL_GENERATOR_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.GeneratorCountPerWave = n
		}
	}
	if v := os.Getenv("SRAL_T_GEN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.GenerationTimeout = d
		}
	}
	if v := os.Getenv("SRAL_T_ANA"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.AnalysisTimeout = d
		}
	}
	if v := os.Getenv("SRAL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxRetries = n
		}
	}
	if v := os.Getenv("SRAL_VIABILITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestrator.ViabilityThreshold = f
		}
	}
	if v := os.Getenv("SRAL_ANALYZER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analyzer.EvaluationConcurrency = n
		}
	}

	if v := os.Getenv("SRAL_GATEWAY_URL"); v != "" {
		c.Peers.GatewayURL = v
	}
	if v := os.Getenv("SRAL_ORCHESTRATOR_URL"); v != "" {
		c.Peers.OrchestratorURL = v
	}
	if v := os.Getenv("SRAL_ANALYZER_URL"); v != "" {
		c.Peers.AnalyzerURL = v
	}
	if v := os.Getenv("SRAL_EVALUATOR_URL"); v != "" {
		c.Peers.EvaluatorURL = v
	}
	if v := os.Getenv("SRAL_GENERATOR_URL"); v != "" {
		c.Peers.GeneratorURL = v
	}

	if v := os.Getenv("SRAL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SRAL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SRAL_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
	}
	if v := os.Getenv("SRAL_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0-65535", c.Port)
	}
	if c.Orchestrator.GeneratorCountPerWave <= 0 {
		return fmt.Errorf("orchestrator.generator_count_per_wave must be positive")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0")
	}
	if c.Analyzer.EvaluationConcurrency <= 0 {
		return fmt.Errorf("analyzer.evaluation_concurrency must be positive")
	}
	return nil
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// WithName sets the service name.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("name must not be empty")
		}
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithLogger attaches a logger used during configuration loading.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithMockLLM forces the mock LLM provider, overriding environment/defaults.
func WithMockLLM(enabled bool) Option {
	return func(c *Config) error {
		c.LLM.Mock = enabled
		return nil
	}
}

// WithCORS enables CORS with the given allowed origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// NewConfig builds a Config from defaults, environment variables, then
// functional options, in that order of increasing precedence.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying config option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
