package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseName is the database the MONGODB_URI must point at. A URI ending in
// any other database aborts startup; pointing the pipeline at a scratch
// database has destroyed production narratives before.
const DatabaseName = "crypto_news"

// Config holds all application configuration
type Config struct {
	App      App      `mapstructure:"app"`
	Mongo    Mongo    `mapstructure:"mongo"`
	Redis    Redis    `mapstructure:"redis"`
	LLM      LLM      `mapstructure:"llm"`
	Cost     Cost     `mapstructure:"cost"`
	Server   Server   `mapstructure:"server"`
	Ingest   Ingest   `mapstructure:"ingest"`
	Matcher  Matcher  `mapstructure:"matcher"`
	Signals  Signals  `mapstructure:"signals"`
	Briefing Briefing `mapstructure:"briefing"`
	Worker   Worker   `mapstructure:"worker"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	Timezone   string `mapstructure:"timezone"`
	ConfigFile string `mapstructure:"config_file"`
}

// Mongo holds document store configuration
type Mongo struct {
	URI     string `mapstructure:"uri"`
	Timeout string `mapstructure:"timeout"`
}

// Redis holds the shared cache / broker connection. Optional: with no URL the
// cache degrades to in-process only and worker/scheduler commands refuse to start.
type Redis struct {
	URL string `mapstructure:"url"`
}

// LLM holds provider configuration for the model façade
type LLM struct {
	Anthropic     AnthropicConfig `mapstructure:"anthropic"`
	Gemini        GeminiConfig    `mapstructure:"gemini"`
	MaxConcurrent int             `mapstructure:"max_concurrent"`
	CacheTTL      string          `mapstructure:"cache_ttl"`
	Timeout       string          `mapstructure:"timeout"`
}

// AnthropicConfig holds Claude configuration (primary provider)
type AnthropicConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	ExtractionModel string   `mapstructure:"extraction_model"`
	BriefingModel   string   `mapstructure:"briefing_model"`
	FallbackModels  []string `mapstructure:"fallback_models"`
}

// GeminiConfig holds Gemini configuration (secondary provider)
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Cost holds spend-alert thresholds in USD
type Cost struct {
	DailyAlertUSD   float64 `mapstructure:"daily_alert_usd"`
	MonthlyAlertUSD float64 `mapstructure:"monthly_alert_usd"`
}

// Server holds HTTP API configuration
type Server struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	APIKey          string   `mapstructure:"api_key"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

// Ingest holds feed fetching configuration
type Ingest struct {
	UserAgent         string `mapstructure:"user_agent"`
	FeedTimeout       string `mapstructure:"feed_timeout"`
	MaxItemsPerFeed   int    `mapstructure:"max_items_per_feed"`
	ArticlesPerMinute int    `mapstructure:"articles_per_minute"`
	ExtractionBatch   int    `mapstructure:"extraction_batch"`
	BodyTruncateChars int    `mapstructure:"body_truncate_chars"`
}

// Matcher holds narrative matching thresholds
type Matcher struct {
	ExtendThreshold        float64 `mapstructure:"extend_threshold"`
	ReactivateThreshold    float64 `mapstructure:"reactivate_threshold"`
	ReactivationWindowDays int     `mapstructure:"reactivation_window_days"`
	CandidateWindowDays    int     `mapstructure:"candidate_window_days"`
	ConsolidateThreshold   float64 `mapstructure:"consolidate_threshold"`
	MaxMergesPerPass       int     `mapstructure:"max_merges_per_pass"`
}

// Signals holds signal detector configuration
type Signals struct {
	Timeframe      string `mapstructure:"timeframe"`
	Concurrency    int    `mapstructure:"concurrency"`
	SharedCacheTTL string `mapstructure:"shared_cache_ttl"`
	LocalCacheTTL  string `mapstructure:"local_cache_ttl"`
}

// Briefing holds briefing generator configuration
type Briefing struct {
	TopNarratives    int     `mapstructure:"top_narratives"`
	MaxRefinements   int     `mapstructure:"max_refinements"`
	TargetConfidence float64 `mapstructure:"target_confidence"`
	RetentionDays    int     `mapstructure:"retention_days"`
}

// Worker holds task queue configuration
type Worker struct {
	Concurrency int `mapstructure:"concurrency"`
}

var globalConfig *Config

// Load loads the configuration from .env, an optional YAML file, and the
// environment, in that order of increasing precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".cryptopulse")
		viper.SetConfigType("yaml")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	bindEnvironmentVariables()

	// Enable automatic environment variable reading
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply post-processing
	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "America/New_York")

	// Mongo defaults
	viper.SetDefault("mongo.timeout", "10s")

	// LLM defaults
	viper.SetDefault("llm.anthropic.extraction_model", "claude-3-5-haiku-latest")
	viper.SetDefault("llm.anthropic.briefing_model", "claude-sonnet-4-20250514")
	viper.SetDefault("llm.anthropic.fallback_models", []string{"claude-3-5-haiku-latest", "claude-3-haiku-20240307"})
	viper.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	viper.SetDefault("llm.max_concurrent", 4)
	viper.SetDefault("llm.cache_ttl", "24h")
	viper.SetDefault("llm.timeout", "120s")

	// Cost alert defaults
	viper.SetDefault("cost.daily_alert_usd", 0.50)
	viper.SetDefault("cost.monthly_alert_usd", 10.0)

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.shutdown_timeout", "15s")

	// Ingest defaults
	viper.SetDefault("ingest.user_agent", "CryptoPulse/1.0")
	viper.SetDefault("ingest.feed_timeout", "30s")
	viper.SetDefault("ingest.max_items_per_feed", 50)
	viper.SetDefault("ingest.articles_per_minute", 20)
	viper.SetDefault("ingest.extraction_batch", 10)
	viper.SetDefault("ingest.body_truncate_chars", 2000)

	// Matcher defaults
	viper.SetDefault("matcher.extend_threshold", 0.60)
	viper.SetDefault("matcher.reactivate_threshold", 0.80)
	viper.SetDefault("matcher.reactivation_window_days", 30)
	viper.SetDefault("matcher.candidate_window_days", 90)
	viper.SetDefault("matcher.consolidate_threshold", 0.85)
	viper.SetDefault("matcher.max_merges_per_pass", 20)

	// Signals defaults
	viper.SetDefault("signals.timeframe", "24h")
	viper.SetDefault("signals.concurrency", 16)
	viper.SetDefault("signals.shared_cache_ttl", "120s")
	viper.SetDefault("signals.local_cache_ttl", "60s")

	// Briefing defaults
	viper.SetDefault("briefing.top_narratives", 10)
	viper.SetDefault("briefing.max_refinements", 2)
	viper.SetDefault("briefing.target_confidence", 0.9)
	viper.SetDefault("briefing.retention_days", 30)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 8)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("mongo.uri", []string{
		"MONGODB_URI",
		"MONGO_URI",
	})

	bindEnvKeys("redis.url", []string{
		"REDIS_URL",
		"CELERY_BROKER_URL",
	})

	bindEnvKeys("llm.anthropic.api_key", []string{
		"ANTHROPIC_API_KEY",
		"CLAUDE_API_KEY",
	})

	bindEnvKeys("llm.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("server.api_key", []string{
		"API_KEY",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})

	bindEnvKeys("app.timezone", []string{
		"TIMEZONE",
		"TZ_NAME",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"CRYPTOPULSE_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	durations := map[string]string{
		"mongo.timeout":            config.Mongo.Timeout,
		"llm.cache_ttl":            config.LLM.CacheTTL,
		"llm.timeout":              config.LLM.Timeout,
		"server.shutdown_timeout":  config.Server.ShutdownTimeout,
		"ingest.feed_timeout":      config.Ingest.FeedTimeout,
		"signals.timeframe":        config.Signals.Timeframe,
		"signals.shared_cache_ttl": config.Signals.SharedCacheTTL,
		"signals.local_cache_ttl":  config.Signals.LocalCacheTTL,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	if config.App.Timezone != "" {
		if _, err := time.LoadLocation(config.App.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", config.App.Timezone, err)
		}
	}

	return nil
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.Mongo.URI == "" {
		errors = append(errors, "MongoDB URI is required. Set MONGODB_URI environment variable or mongo.uri in config file")
	} else if err := ValidateMongoURI(config.Mongo.URI); err != nil {
		errors = append(errors, err.Error())
	}

	if config.LLM.Anthropic.APIKey == "" && config.LLM.Gemini.APIKey == "" {
		errors = append(errors, "at least one LLM provider key is required. Set ANTHROPIC_API_KEY (preferred) or GEMINI_API_KEY")
	}

	if config.Server.APIKey == "" {
		errors = append(errors, "API key for the HTTP API is required. Set API_KEY environment variable or server.api_key in config file")
	}

	for key, v := range map[string]float64{
		"matcher.extend_threshold":      config.Matcher.ExtendThreshold,
		"matcher.reactivate_threshold":  config.Matcher.ReactivateThreshold,
		"matcher.consolidate_threshold": config.Matcher.ConsolidateThreshold,
		"briefing.target_confidence":    config.Briefing.TargetConfidence,
	} {
		if v < 0 || v > 1 {
			errors = append(errors, fmt.Sprintf("%s must be within [0,1], got %v", key, v))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateMongoURI checks that the connection string points at DatabaseName.
// The guard is deliberately strict: a URI with no database path segment fails
// too, so a bare host cannot silently select "test".
func ValidateMongoURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("MongoDB URI is not parseable: %w", err)
	}

	dbName := strings.TrimPrefix(parsed.Path, "/")
	if i := strings.IndexByte(dbName, '/'); i >= 0 {
		dbName = dbName[:i]
	}

	if dbName != DatabaseName {
		return fmt.Errorf("MongoDB URI must end in database %q, got %q. Refusing to start against the wrong database", DatabaseName, dbName)
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App           { return Get().App }
func GetMongo() Mongo       { return Get().Mongo }
func GetRedis() Redis       { return Get().Redis }
func GetLLM() LLM           { return Get().LLM }
func GetCost() Cost         { return Get().Cost }
func GetServer() Server     { return Get().Server }
func GetIngest() Ingest     { return Get().Ingest }
func GetMatcher() Matcher   { return Get().Matcher }
func GetSignals() Signals   { return Get().Signals }
func GetBriefing() Briefing { return Get().Briefing }
func GetWorker() Worker     { return Get().Worker }

// Specific convenience getters for frequently accessed values
func GetMongoURI() string        { return Get().Mongo.URI }
func GetRedisURL() string        { return Get().Redis.URL }
func GetAnthropicAPIKey() string { return Get().LLM.Anthropic.APIKey }
func GetGeminiAPIKey() string    { return Get().LLM.Gemini.APIKey }
func GetAPIKey() string          { return Get().Server.APIKey }
func IsDebugMode() bool          { return Get().App.Debug }

// Timezone returns the configured local timezone. Briefing day-dedup and the
// briefing cron entries are evaluated in this zone, not UTC.
func Timezone() *time.Location {
	loc, err := time.LoadLocation(Get().App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration parses an already-validated duration string with a fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
