package engine

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	DBPath     string
	EncryptKey string

	LLMAPIBase     string
	LLMModel       string // default model for users without one
	LLMTemperature float64
	LLMMaxTokens   int

	PollInterval    time.Duration
	PerChannelLimit int
	MaxAttempts     int
	RetryAfter      time.Duration
	StaleClaimAfter time.Duration

	FeedTimeout       time.Duration
	TranscriptTimeout time.Duration
	SummaryTimeout    time.Duration
	DeliveryTimeout   time.Duration
	CycleTimeout      time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	CacheMaxEntries      int
	CacheCleanupInterval time.Duration

	YouTubeRPS float64
	HTTPClient *http.Client
	Limiter    *rate.Limiter // nil = unlimited
}

var cfg = Defaults()

// Cfg exposes the engine configuration for sub-packages.
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration.
func Init(c Config) {
	if c.HTTPClient == nil {
		c.HTTPClient = defaultHTTPClient()
	}
	if c.Limiter == nil && c.YouTubeRPS > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(c.YouTubeRPS), 2)
	}
	cfg = c
	Cfg = &cfg
}

// Defaults returns the configuration used when a value is not set.
func Defaults() Config {
	return Config{
		LLMAPIBase:           "https://api.openai.com/v1",
		LLMModel:             "gpt-4o-mini",
		LLMTemperature:       0.3,
		LLMMaxTokens:         2048,
		PollInterval:         15 * time.Minute,
		PerChannelLimit:      5,
		MaxAttempts:          3,
		RetryAfter:           time.Hour,
		StaleClaimAfter:      30 * time.Minute,
		FeedTimeout:          20 * time.Second,
		TranscriptTimeout:    60 * time.Second,
		SummaryTimeout:       120 * time.Second,
		DeliveryTimeout:      30 * time.Second,
		CycleTimeout:         30 * time.Minute,
		SMTPPort:             587,
		CacheMaxEntries:      1000,
		CacheCleanupInterval: 5 * time.Minute,
		HTTPClient:           defaultHTTPClient(),
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}
}
