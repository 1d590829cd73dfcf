package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
	"github.com/theimaginaryfoundation/chat-tagger/tabular"
)

type Config struct {
	RulesPath  string
	ChatsPath  string
	OutDir     string
	BodyColumn string

	Provider    string
	BaseURL     string
	API         string
	Format      string
	Model       string
	APIKey      string
	HTTPRetries int
	Timeout     time.Duration
	MaxTokens   int

	Concurrency  int
	RateLimit    int
	RateWindow   time.Duration
	RequestDelay time.Duration
	MaxRetries   int

	RedisAddr string
	RedisKey  string

	BreakerFailures int
	BreakerTimeout  time.Duration

	PromptFile     string
	ReasonLanguage string
	MaxReasonChars int

	ResultsPath  string
	WorkbookPath string
	Resume       bool
	TagOnly      bool

	EnvFile   string
	LogLevel  string
	LogFormat string
}

func (c Config) Validate() error {
	if c.RulesPath == "" {
		return errors.New("missing -rules")
	}
	if c.ChatsPath == "" {
		return errors.New("missing -chats")
	}
	if c.OutDir == "" {
		return errors.New("missing -out")
	}
	if strings.TrimSpace(c.BodyColumn) == "" {
		return errors.New("missing -body-column")
	}
	if c.TagOnly {
		return c.validateLogging()
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit must be >= 0")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return errors.New("rate-window must be > 0")
	}
	if c.RequestDelay < 0 {
		return errors.New("request-delay must be >= 0")
	}
	if c.MaxRetries <= 0 {
		return errors.New("max-retries must be > 0")
	}
	if c.HTTPRetries < 0 {
		return errors.New("http-retries must be >= 0")
	}
	if c.MaxReasonChars <= 0 {
		return errors.New("max-reason-chars must be > 0")
	}
	if c.BreakerFailures < 0 {
		return errors.New("breaker-failures must be >= 0")
	}
	if c.RedisAddr != "" && c.RateLimit == 0 {
		return errors.New("-redis-addr requires -rate-limit > 0")
	}
	return c.validateLogging()
}

func (c Config) validateLogging() error {
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.New("log-format must be console or json")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		OutDir:          "output",
		BodyColumn:      tabular.DefaultBodyColumn,
		Provider:        "openai",
		Model:           "gpt-4o-mini",
		Timeout:         60 * time.Second,
		MaxTokens:       300,
		Concurrency:     sentiment.DefaultConcurrency,
		RateLimit:       sentiment.DefaultRateLimit,
		RateWindow:      sentiment.DefaultRateWindow,
		RequestDelay:    sentiment.DefaultRequestDelay,
		MaxRetries:      sentiment.DefaultMaxRetries,
		RedisKey:        "chat-tagger",
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		MaxReasonChars:  100,
		EnvFile:         ".env",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.RulesPath, "rules", "", "Keyword rule file (.csv, .xlsx, .yaml, .yml or .json) with brand, product, keyword, required_product")
	fs.StringVar(&cfg.ChatsPath, "chats", "", "Chat export .csv file OR directory (each subdirectory is one batch)")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Output directory for annotated <batch>.csv files")
	fs.StringVar(&cfg.BodyColumn, "body-column", cfg.BodyColumn, "Column holding the message text")

	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Model vendor: openai, deepseek, poe or custom")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Override the vendor base URL (required for -provider custom)")
	fs.StringVar(&cfg.API, "api", "", "API flavour: responses or chat (default: responses for openai, chat otherwise)")
	fs.StringVar(&cfg.Format, "format", "", "Reply format: json_schema, json_object or none (default depends on -provider)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model to use for sentiment judgments")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides <PROVIDER>_API_KEY and OPENAI_API_KEY env vars)")
	fs.IntVar(&cfg.HTTPRetries, "http-retries", 0, "Client-side HTTP retries per call (these bypass the rate limiter)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-call request timeout (0 disables)")
	fs.IntVar(&cfg.MaxTokens, "max-output-tokens", cfg.MaxTokens, "Max output tokens per reply")

	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent sentiment requests")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Max calls per -rate-window (0 disables)")
	fs.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "Sliding window for -rate-limit")
	fs.DurationVar(&cfg.RequestDelay, "request-delay", cfg.RequestDelay, "Delay before each call, after the rate-limit permit")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Invalid replies tolerated per pair before it fails")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Optional Redis address for a shared rate-limit window across processes")
	fs.StringVar(&cfg.RedisKey, "redis-key", cfg.RedisKey, "Redis key for the shared rate-limit window")

	fs.IntVar(&cfg.BreakerFailures, "breaker-failures", cfg.BreakerFailures, "Consecutive transport failures that open the circuit breaker (0 disables)")
	fs.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", cfg.BreakerTimeout, "How long an open breaker rejects calls")

	fs.StringVar(&cfg.PromptFile, "prompt-file", "", "Optional path to a custom prompt header (prepended before the required SECURITY+keywords+schema tail)")
	fs.StringVar(&cfg.ReasonLanguage, "reason-language", "", "Language the reasons are written in (default: model's choice)")
	fs.IntVar(&cfg.MaxReasonChars, "max-reason-chars", cfg.MaxReasonChars, "Max characters requested per reason")

	fs.StringVar(&cfg.ResultsPath, "results", "", "Optional path for results.jsonl (default: <out>/results.jsonl)")
	fs.StringVar(&cfg.WorkbookPath, "xlsx", "", "Optional .xlsx workbook also holding every batch, one sheet per batch")
	fs.BoolVar(&cfg.Resume, "resume", false, "Reuse successful results already in -results instead of re-asking the model")
	fs.BoolVar(&cfg.TagOnly, "tag-only", false, "Only tag messages (1 / empty per label); no model calls")

	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Dotenv file loaded before reading API keys (missing file is ignored)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.RulesPath != "" {
		cfg.RulesPath = filepath.Clean(cfg.RulesPath)
	}
	if cfg.ChatsPath != "" {
		cfg.ChatsPath = filepath.Clean(cfg.ChatsPath)
	}
	if cfg.OutDir != "" {
		cfg.OutDir = filepath.Clean(cfg.OutDir)
	}
	if cfg.WorkbookPath != "" {
		cfg.WorkbookPath = filepath.Clean(cfg.WorkbookPath)
	}
	if cfg.PromptFile != "" {
		cfg.PromptFile = filepath.Clean(cfg.PromptFile)
	}
	if cfg.ResultsPath == "" && cfg.OutDir != "" {
		cfg.ResultsPath = filepath.Join(cfg.OutDir, "results.jsonl")
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}

// resolveAPIKey returns the first of -api-key, <PROVIDER>_API_KEY and OPENAI_API_KEY.
func resolveAPIKey(cfg Config, getenv func(string) string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	if cfg.Provider != "" {
		if k := getenv(strings.ToUpper(cfg.Provider) + "_API_KEY"); k != "" {
			return k
		}
	}
	return getenv("OPENAI_API_KEY")
}
