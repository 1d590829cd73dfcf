package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment/provider"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment/ratelimit"
	"github.com/theimaginaryfoundation/chat-tagger/tabular"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := loadEnvFile(cfg.EnvFile); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg, log, provider.New); err != nil {
		log.Error().Err(err).Msg("run failed")
		var se setupError
		if errors.As(err, &se) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setupError marks failures caused by bad input or configuration.
type setupError struct{ error }

func (e setupError) Unwrap() error { return e.error }

func setupErrorf(format string, args ...any) error {
	return setupError{fmt.Errorf(format, args...)}
}

// transportFactory builds the model transport; provider.New in production.
type transportFactory func(provider.Config) (sentiment.Transport, error)

// runSummary aggregates the per-batch summaries of one invocation.
type runSummary struct {
	RunID    string
	Batches  int
	Messages int
	Tagged   int
	Judged   int
	Failed   int
	Calls    int64
	Peak     int64
}

func (s *runSummary) add(b sentiment.Summary) {
	s.Batches++
	s.Messages += b.Messages
	s.Tagged += b.TaggedPairs
	s.Judged += b.Judged
	s.Failed += b.Failed
	s.Calls += b.Calls
	if b.PeakInFlight > s.Peak {
		s.Peak = b.PeakInFlight
	}
}

func run(ctx context.Context, cfg Config, log zerolog.Logger, newTransport transportFactory) (runSummary, error) {
	sum := runSummary{RunID: uuid.NewString()}
	log = log.With().Str("run_id", sum.RunID).Logger()
	start := time.Now()

	rows, err := tabular.ReadRules(cfg.RulesPath)
	if err != nil {
		return sum, setupError{err}
	}
	rules, issues := tagging.NewRuleSet(rows)
	for _, is := range issues {
		log.Warn().Int("row", is.Row).Str("label", is.Label).Msg(is.Reason)
	}
	if rules.Len() == 0 {
		return sum, setupErrorf("no usable rules in %s", cfg.RulesPath)
	}
	log.Info().Int("rules", rules.Len()).Int("labels", len(rules.Labels())).Int("issues", len(issues)).Msg("rules loaded")

	batches, err := tabular.CollectBatches(cfg.ChatsPath)
	if err != nil {
		return sum, setupError{err}
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return sum, setupErrorf("mkdir -out: %w", err)
	}

	var sheets []tabular.Sheet
	if cfg.TagOnly {
		for _, b := range batches {
			t, msgs, err := loadBatch(b, cfg.BodyColumn)
			if err != nil {
				return sum, err
			}
			m := tagging.Tag(msgs, rules)
			out := tabular.OutputPath(cfg.OutDir, b.Name)
			sheet, err := tabular.WriteTagged(out, t, m)
			if err != nil {
				return sum, err
			}
			sheets = append(sheets, sheet)
			sum.add(sentiment.Summary{Messages: len(msgs), TaggedPairs: len(m.Pairs())})
			log.Info().Str("batch", b.Name).Int("messages", len(msgs)).Int("tagged_pairs", len(m.Pairs())).Str("out", out).Msg("batch tagged")
		}
		if err := writeWorkbook(cfg, sheets, log); err != nil {
			return sum, err
		}
		logSummary(log, sum, time.Since(start))
		return sum, nil
	}

	header := sentiment.DefaultPromptHeader
	if cfg.PromptFile != "" {
		h, err := sentiment.LoadPromptHeader(cfg.PromptFile)
		if err != nil {
			return sum, setupError{err}
		}
		header = h
	}
	prompts, err := sentiment.NewPromptBuilder(rules, sentiment.PromptOptions{
		Header:         header,
		ReasonLanguage: cfg.ReasonLanguage,
		MaxReasonChars: cfg.MaxReasonChars,
	})
	if err != nil {
		return sum, setupError{err}
	}

	transport, err := newTransport(provider.Config{
		Provider:        cfg.Provider,
		BaseURL:         cfg.BaseURL,
		APIKey:          resolveAPIKey(cfg, os.Getenv),
		Model:           cfg.Model,
		API:             cfg.API,
		Format:          cfg.Format,
		MaxOutputTokens: cfg.MaxTokens,
		HTTPRetries:     cfg.HTTPRetries,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		return sum, setupErrorf("build transport: %w", err)
	}
	if cfg.BreakerFailures > 0 {
		bc := provider.DefaultBreakerConfig()
		bc.ConsecutiveFailures = uint32(cfg.BreakerFailures)
		bc.OpenTimeout = cfg.BreakerTimeout
		bc.Logger = log
		transport = provider.NewBreaker(transport, cfg.Provider, bc)
	}

	limiter, closeLimiter, err := newLimiter(cfg, log)
	if err != nil {
		return sum, setupError{err}
	}
	defer closeLimiter()

	var prior map[string]map[sentiment.PairKey]sentiment.Result
	if cfg.Resume && !tabular.FileExists(cfg.ResultsPath) {
		log.Warn().Str("path", cfg.ResultsPath).Msg("-resume set but no results file yet; judging every pair")
	} else if cfg.Resume {
		var skipped int
		prior, skipped, err = tabular.ReadResults(cfg.ResultsPath)
		if err != nil {
			return sum, setupErrorf("read -results: %w", err)
		}
		if skipped > 0 {
			log.Warn().Int("skipped", skipped).Str("path", cfg.ResultsPath).Msg("ignored malformed result lines")
		}
	}

	results, err := tabular.OpenResults(cfg.ResultsPath, sum.RunID)
	if err != nil {
		return sum, setupErrorf("open -results: %w", err)
	}
	defer results.Close()

	// batch is only reassigned between dispatcher runs.
	var (
		batch    string
		writeErr error
	)
	d, err := sentiment.NewDispatcher(transport, sentiment.DispatcherConfig{
		Concurrency:  cfg.Concurrency,
		Limiter:      limiter,
		RequestDelay: cfg.RequestDelay,
		MaxRetries:   cfg.MaxRetries,
		Logger:       log,
		OnResult: func(r sentiment.Result) {
			if err := results.Write(batch, r); err != nil && writeErr == nil {
				writeErr = err
			}
		},
	})
	if err != nil {
		return sum, setupError{err}
	}
	pipeline, err := sentiment.NewPipeline(rules, prompts, d, log)
	if err != nil {
		return sum, setupError{err}
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			break
		}
		t, msgs, err := loadBatch(b, cfg.BodyColumn)
		if err != nil {
			return sum, err
		}
		batch = b.Name
		out := pipeline.Run(ctx, msgs, prior[b.Name])
		if err := results.Flush(); err != nil {
			return sum, fmt.Errorf("flush -results: %w", err)
		}
		if writeErr != nil {
			return sum, fmt.Errorf("write -results: %w", writeErr)
		}

		path := tabular.OutputPath(cfg.OutDir, b.Name)
		sheet, err := tabular.WriteAnnotated(path, t, out.Annotations)
		if err != nil {
			return sum, err
		}
		sheets = append(sheets, sheet)
		sum.add(out.Summary)
		s := out.Summary
		log.Info().
			Str("batch", b.Name).
			Int("messages", s.Messages).
			Int("tagged_pairs", s.TaggedPairs).
			Int("reused", s.Reused).
			Int("judged", s.Judged).
			Int("failed", s.Failed).
			Int("transport_failures", s.TransportFailures).
			Int("validation_failures", s.ValidationFailures).
			Int("cancelled", s.Cancelled).
			Int64("calls", s.Calls).
			Dur("elapsed", s.Elapsed).
			Str("out", path).
			Msg("batch annotated")
	}

	if err := writeWorkbook(cfg, sheets, log); err != nil {
		return sum, err
	}
	logSummary(log, sum, time.Since(start))
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("interrupted: %w", err)
	}
	return sum, nil
}

// writeWorkbook writes the batches finished so far to -xlsx, if set.
func writeWorkbook(cfg Config, sheets []tabular.Sheet, log zerolog.Logger) error {
	if cfg.WorkbookPath == "" || len(sheets) == 0 {
		return nil
	}
	if err := tabular.WriteWorkbook(cfg.WorkbookPath, sheets); err != nil {
		return err
	}
	log.Info().Int("sheets", len(sheets)).Str("out", cfg.WorkbookPath).Msg("workbook written")
	return nil
}

func loadBatch(b tabular.Batch, bodyColumn string) (*tabular.Table, []tagging.Message, error) {
	t, err := tabular.ReadBatch(b)
	if err != nil {
		return nil, nil, setupError{err}
	}
	msgs, err := t.Messages(bodyColumn)
	if err != nil {
		return nil, nil, setupError{err}
	}
	return t, msgs, nil
}

// newLimiter picks the shared Redis window, the in-process window or no limit at all.
func newLimiter(cfg Config, log zerolog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimit == 0 {
		return ratelimit.Unlimited{}, func() {}, nil
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		l, err := ratelimit.NewRedisWindow(client, cfg.RedisKey, cfg.RateLimit, cfg.RateWindow, log)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return l, func() { _ = client.Close() }, nil
	}
	l, err := ratelimit.NewSlidingWindow(cfg.RateLimit, cfg.RateWindow)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {}, nil
}

func logSummary(log zerolog.Logger, s runSummary, elapsed time.Duration) {
	log.Info().
		Int("batches", s.Batches).
		Int("messages", s.Messages).
		Int("tagged_pairs", s.Tagged).
		Int("judged", s.Judged).
		Int("failed", s.Failed).
		Int64("calls", s.Calls).
		Int64("peak_in_flight", s.Peak).
		Dur("elapsed", elapsed).
		Msg("run complete")
}

// loadEnvFile loads path into the environment without overriding set variables. A
// missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load -env-file: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid -log-level %q", level)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
