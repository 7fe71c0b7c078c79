// go_ytdigest: multi-tenant YouTube digest MCP server.
//
// Polls every user's registered channels, fetches English transcripts of
// new videos, turns them into strict four-section Korean summaries with the
// user's own LLM key, and delivers them by email or keeps them for the web
// listing. Account, channel and summary management is exposed as MCP tools.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/account"
	"github.com/anatolykoptev/go_ytdigest/internal/digestserver"
	"github.com/anatolykoptev/go_ytdigest/internal/engine"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/digest"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/notify"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/pipeline"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/scheduler"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/vault"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "run one cycle for every user and exit")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(setupLogger(env.Str("LOG_LEVEL", "info"), env.Str("LOG_FORMAT", "text")))

	c := loadConfig()
	engine.Init(c)
	engine.InitCache(env.Str("REDIS_URL", ""), env.Duration("CACHE_TTL", 24*time.Hour), c.CacheMaxEntries, c.CacheCleanupInterval)

	ctx := context.Background()
	st, err := store.Open(ctx, c.DBPath)
	if err != nil {
		slog.Error("store open failed", slog.String("path", c.DBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	v, err := vault.New(c.EncryptKey)
	if err != nil {
		slog.Error("vault init failed", slog.Any("error", err))
		os.Exit(1)
	}

	yt := newYouTubeClient()
	p := pipeline.New(pipeline.Deps{
		Store:       st,
		Feeds:       yt,
		Transcripts: yt,
		Summarizer:  digest.New(engine.NewLLMCompleter(c), c.LLMModel),
		Notifier:    notify.New(newMailer(c), c.SMTPFrom, slog.Default()),
		Vault:       v,
		Logger:      slog.Default(),
	}, pipeline.OptionsFromConfig(c))
	defer p.Close()

	if *once {
		cr, err := p.RunAll(ctx)
		if err != nil {
			slog.Error("cycle failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("cycle finished", slog.Int("users", len(cr.Users)), slog.Int("errors", cr.Errors))
		return
	}

	sched, err := scheduler.New(c.PollInterval, c.CycleTimeout, func(ctx context.Context) error {
		_, err := p.RunAll(ctx)
		return err
	}, slog.Default())
	if err != nil {
		slog.Error("scheduler init failed", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start(env.Str("RUN_ON_START", "true") == "true")
	defer sched.Stop()
	slog.Info("scheduler started", slog.Duration("interval", c.PollInterval), slog.Time("next", sched.Next()))

	mcpPort := env.Str("MCP_PORT", "8893")
	slog.Info("starting go_ytdigest", slog.String("port", mcpPort), slog.String("db", c.DBPath))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_ytdigest",
		Version: version,
	}, nil)

	accounts := account.New(st, yt, yt, v, slog.Default())
	digestserver.New(accounts, p, st).RegisterTools(server)
	slog.Info("tools registered", slog.Int("count", digestserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_ytdigest",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 120 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func loadConfig() engine.Config {
	d := engine.Defaults()
	return engine.Config{
		DBPath:     env.Str("DB_PATH", "ytdigest.db"),
		EncryptKey: env.Str("ENCRYPT_KEY", ""),

		LLMAPIBase:     env.Str("LLM_API_BASE", d.LLMAPIBase),
		LLMModel:       env.Str("LLM_MODEL", d.LLMModel),
		LLMTemperature: env.Float("LLM_TEMPERATURE", d.LLMTemperature),
		LLMMaxTokens:   env.Int("LLM_MAX_TOKENS", d.LLMMaxTokens),

		PollInterval:    env.Duration("POLL_INTERVAL", d.PollInterval),
		PerChannelLimit: env.Int("PER_CHANNEL_LIMIT", d.PerChannelLimit),
		MaxAttempts:     env.Int("MAX_ATTEMPTS", d.MaxAttempts),
		RetryAfter:      env.Duration("RETRY_AFTER", d.RetryAfter),
		StaleClaimAfter: env.Duration("STALE_CLAIM_AFTER", d.StaleClaimAfter),

		FeedTimeout:       env.Duration("FEED_TIMEOUT", d.FeedTimeout),
		TranscriptTimeout: env.Duration("TRANSCRIPT_TIMEOUT", d.TranscriptTimeout),
		SummaryTimeout:    env.Duration("SUMMARY_TIMEOUT", d.SummaryTimeout),
		DeliveryTimeout:   env.Duration("DELIVERY_TIMEOUT", d.DeliveryTimeout),
		CycleTimeout:      env.Duration("CYCLE_TIMEOUT", d.CycleTimeout),

		SMTPHost:     env.Str("SMTP_HOST", ""),
		SMTPPort:     env.Int("SMTP_PORT", d.SMTPPort),
		SMTPUser:     env.Str("SMTP_USER", ""),
		SMTPPassword: env.Str("SMTP_PASSWORD", ""),
		SMTPFrom:     env.Str("SMTP_FROM", env.Str("SMTP_USER", "")),

		CacheMaxEntries:      env.Int("CACHE_MAX_ENTRIES", d.CacheMaxEntries),
		CacheCleanupInterval: env.Duration("CACHE_CLEANUP_INTERVAL", d.CacheCleanupInterval),

		YouTubeRPS: env.Float("YOUTUBE_RPS", 2),
	}
}

// newYouTubeClient prefers a TLS-fingerprinted browser client for channel
// pages and falls back to plain HTTP when it cannot be built.
func newYouTubeClient() *sources.Client {
	if env.Str("BROWSER_CLIENT", "true") != "true" {
		return sources.NewClient()
	}
	bc, err := engine.NewBrowserClient(20)
	if err != nil {
		slog.Warn("browser client init failed, using plain http", slog.Any("error", err))
		return sources.NewClient()
	}
	slog.Info("browser client initialized")
	return sources.NewClient(sources.WithBrowser(bc))
}

func newMailer(c engine.Config) notify.Mailer {
	if c.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, email delivery disabled")
		return nil
	}
	return &notify.SMTPMailer{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		User:     c.SMTPUser,
		Password: c.SMTPPassword,
	}
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.DateTime}))
}
