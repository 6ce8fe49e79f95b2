package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the secret overrides read from the environment.
const EnvPrefix = "POSTMAP"

// Config holds the postmap configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reduce    ReduceConfig    `yaml:"reduce"`
	Search    SearchConfig    `yaml:"search"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: determined by env)
	Format string `yaml:"format"` // json, console (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// CORSConfig holds cross-origin settings for the browser map client.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"` // empty disables CORS handling
	MaxAgeSec      int      `yaml:"max_age_sec"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	// URL is sqlite:///path/to/file.db, sqlite://:memory: or postgres://...
	URL             string `yaml:"url"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_sec"`
}

// IndexConfig holds the external ANN index settings. The index is optional:
// with no addrs, posts are not mirrored and only exact search is served.
type IndexConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	HNSWEFRuntime    int      `yaml:"hnsw_ef_runtime"` // 0 keeps the server default
	WriteTimeoutMs   int      `yaml:"write_timeout_ms"`
}

// Enabled reports whether an index is configured.
func (c IndexConfig) Enabled() bool { return len(c.Addrs) > 0 }

// EmbeddingConfig holds the embedding backend settings.
type EmbeddingConfig struct {
	// Provider is openai, hugot (local model) or hashing (offline, tests and demos).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	ModelDir   string `yaml:"model_dir"`
	BatchSize  int    `yaml:"batch_size"`
	// CacheTTLSec enables the Redis embedding cache when the index store is configured.
	CacheTTLSec int          `yaml:"cache_ttl_sec"`
	Budget      BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ReduceConfig holds the 2D projection settings.
type ReduceConfig struct {
	Strategy      string  `yaml:"strategy"` // umap (default) or mds
	MaxConcurrent int     `yaml:"max_concurrent"`
	Seed          uint64  `yaml:"seed"`
	Neighbors     int     `yaml:"neighbors"`
	MinDist       float64 `yaml:"min_dist"`
	Spread        float64 `yaml:"spread"`
	Epochs        int     `yaml:"epochs"`
	MDSMaxIter    int     `yaml:"mds_max_iter"`
}

// SearchConfig holds search defaults and limits.
type SearchConfig struct {
	DefaultBackend string  `yaml:"default_backend"` // exact (default) or index
	DefaultTopK    int     `yaml:"default_top_k"`
	MaxTopK        int     `yaml:"max_top_k"`
	MinSimilarity  float64 `yaml:"min_similarity"`
}

// MirrorConfig holds the index mirror settings.
type MirrorConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// BackfillConfig holds the backfill job settings.
type BackfillConfig struct {
	MaxPosts     int     `yaml:"max_posts"`
	RatePerSec   float64 `yaml:"rate_per_sec"` // 0 = unlimited
	Burst        int     `yaml:"burst"`
	OnStartup    bool    `yaml:"on_startup"`
	IndexOnStart bool    `yaml:"index_on_start"`
}

// Secrets are overlaid from POSTMAP_* environment variables after the YAML is parsed.
type Secrets struct {
	DatabaseURL   string   `envconfig:"DATABASE_URL"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD"`
	OpenAIAPIKey  string   `envconfig:"OPENAI_API_KEY"`
	APIKeys       []string `envconfig:"API_KEYS"`
}

// Load reads configuration from a YAML file by environment name (local, prod).
// A .env file in the working directory is loaded first when present.
func Load(env string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse expands ${VAR} references in data, decodes it, overlays secrets from
// the environment, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applySecrets(); err != nil {
		return Config{}, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

func (c *Config) applySecrets() error {
	var s Secrets
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return fmt.Errorf("failed to read %s_* environment: %w", EnvPrefix, err)
	}
	if s.DatabaseURL != "" {
		c.Database.URL = s.DatabaseURL
	}
	if s.RedisPassword != "" {
		c.Index.Password = s.RedisPassword
	}
	if s.OpenAIAPIKey != "" {
		c.Embedding.APIKey = s.OpenAIAPIKey
	}
	if len(s.APIKeys) > 0 {
		c.Auth.APIKeys = s.APIKeys
	}
	return nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Map builds over the whole corpus can take a while.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.DefaultPageSize <= 0 {
		c.HTTP.DefaultPageSize = 20
	}
	if c.HTTP.MaxPageSize <= 0 {
		c.HTTP.MaxPageSize = 100
	}
	if c.Database.URL == "" {
		c.Database.URL = "sqlite:///postmap.db"
	}
	if c.Index.ReadinessTimeout <= 0 {
		c.Index.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "paraphrase-mpnet-base-v2"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Reduce.Strategy == "" {
		c.Reduce.Strategy = "umap"
	}
	if c.Reduce.Seed == 0 {
		c.Reduce.Seed = 42
	}
	if c.Reduce.Neighbors <= 0 {
		c.Reduce.Neighbors = 15
	}
	if c.Reduce.MinDist <= 0 {
		c.Reduce.MinDist = 0.1
	}
	if c.Reduce.Spread <= 0 {
		c.Reduce.Spread = 1.0
	}
	if c.Reduce.MDSMaxIter <= 0 {
		c.Reduce.MDSMaxIter = 300
	}
	if c.Search.DefaultBackend == "" {
		c.Search.DefaultBackend = "exact"
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 10
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 100
	}
	if c.Mirror.TimeoutMs <= 0 {
		c.Mirror.TimeoutMs = 3000
	}
	if c.Backfill.MaxPosts <= 0 {
		c.Backfill.MaxPosts = 1000
	}
	if c.Backfill.Burst <= 0 {
		c.Backfill.Burst = 1
	}
	if c.CORS.MaxAgeSec <= 0 {
		c.CORS.MaxAgeSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.DefaultPageSize > c.HTTP.MaxPageSize {
		errs = append(errs, fmt.Errorf("http.default_page_size %d exceeds max_page_size %d",
			c.HTTP.DefaultPageSize, c.HTTP.MaxPageSize))
	}
	if !strings.HasPrefix(c.Database.URL, "sqlite://") && !strings.HasPrefix(c.Database.URL, "postgres://") &&
		!strings.HasPrefix(c.Database.URL, "postgresql://") {
		errs = append(errs, fmt.Errorf("database.url must start with sqlite:// or postgres://"))
	}
	switch c.Embedding.Provider {
	case "openai", "hugot", "hashing":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai, hugot or hashing, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "hugot" && c.Embedding.ModelDir == "" {
		errs = append(errs, fmt.Errorf("embedding.model_dir is required for the hugot provider"))
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
	default:
		errs = append(errs, fmt.Errorf("embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action))
	}
	switch c.Reduce.Strategy {
	case "umap", "mds":
	default:
		errs = append(errs, fmt.Errorf("reduce.strategy must be umap or mds, got %q", c.Reduce.Strategy))
	}
	switch c.Search.DefaultBackend {
	case "exact":
	case "index":
		if !c.Index.Enabled() {
			errs = append(errs, fmt.Errorf("search.default_backend index requires index.addrs"))
		}
	default:
		errs = append(errs, fmt.Errorf("search.default_backend must be exact or index, got %q", c.Search.DefaultBackend))
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search.default_top_k %d exceeds max_top_k %d",
			c.Search.DefaultTopK, c.Search.MaxTopK))
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("search.min_similarity must be in [-1, 1], got %v", c.Search.MinSimilarity))
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Index.HNSWEFRuntime < 0 {
		errs = append(errs, fmt.Errorf("index.hnsw_ef_runtime must not be negative"))
	}
	if c.Backfill.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("backfill.rate_per_sec must not be negative"))
	}
	return errors.Join(errs...)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests run from a package directory.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
