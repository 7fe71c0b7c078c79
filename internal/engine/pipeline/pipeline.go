// Package pipeline runs scan cycles: it reads each user's channel feeds,
// claims unseen videos in the ledger, and turns them into delivered Korean
// summaries. Every entry point is safe to call concurrently with itself;
// the ledger's unique constraints decide which caller owns a video.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/digest"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/notify"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
)

// ErrMissingAPIKey is reported for users that have not stored a completion key.
var ErrMissingAPIKey = errors.New("no api key configured")

// MaxManualSelection caps how many videos one manual generate request handles.
const MaxManualSelection = 20

// FeedSource lists a channel's recent uploads.
type FeedSource interface {
	FetchFeed(ctx context.Context, channelID string) (*sources.Feed, error)
}

// TranscriptSource returns the English transcript text of a video.
type TranscriptSource interface {
	FetchTranscript(ctx context.Context, videoID string) (string, error)
}

// Summarizer turns a transcript into a validated summary.
type Summarizer interface {
	Summarize(ctx context.Context, req digest.Request) (*digest.Summary, error)
}

// Notifier hands a stored summary to the user.
type Notifier interface {
	Deliver(ctx context.Context, mode string, m notify.Message) error
}

// Unsealer recovers a stored API key.
type Unsealer interface {
	Unseal(sealed string) (string, error)
}

// Ledger is the part of the store the pipeline needs.
type Ledger interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	ListChannels(ctx context.Context, userID int64) ([]store.Channel, error)
	ClaimScanned(ctx context.Context, it *store.ScannedItem) error
	Reclaim(ctx context.Context, it *store.ScannedItem, p store.RetryPolicy) error
	FinishScanned(ctx context.Context, id int64, state store.ItemState, reason string) error
	ReleaseClaim(ctx context.Context, id int64, reason string) error
	DueForRetry(ctx context.Context, userID int64, p store.RetryPolicy) ([]store.ScannedItem, error)
	AbandonExhausted(ctx context.Context, userID int64, p store.RetryPolicy) (int64, error)
	CommitGenerated(ctx context.Context, g *store.GeneratedItem) error
	RecordDelivery(ctx context.Context, id int64, reason string) error
	GetScanned(ctx context.Context, userID int64, videoID string) (*store.ScannedItem, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store       Ledger
	Feeds       FeedSource
	Transcripts TranscriptSource
	Summarizer  Summarizer
	Notifier    Notifier
	Vault       Unsealer
	Logger      *slog.Logger
}

// Options tune a Pipeline. Zero timeouts disable the corresponding deadline.
type Options struct {
	PerChannelLimit   int
	Retry             store.RetryPolicy
	FeedTimeout       time.Duration
	TranscriptTimeout time.Duration
	SummaryTimeout    time.Duration
	DeliveryTimeout   time.Duration
	CycleTimeout      time.Duration // bound for triggered background runs
}

// OptionsFromConfig maps engine configuration to pipeline options.
func OptionsFromConfig(c engine.Config) Options {
	return Options{
		PerChannelLimit: c.PerChannelLimit,
		Retry: store.RetryPolicy{
			MaxAttempts: c.MaxAttempts,
			RetryAfter:  c.RetryAfter,
			StaleAfter:  c.StaleClaimAfter,
		},
		FeedTimeout:       c.FeedTimeout,
		TranscriptTimeout: c.TranscriptTimeout,
		SummaryTimeout:    c.SummaryTimeout,
		DeliveryTimeout:   c.DeliveryTimeout,
		CycleTimeout:      c.CycleTimeout,
	}
}

// Pipeline orchestrates scan cycles.
type Pipeline struct {
	d      Deps
	opts   Options
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reports   sync.Map // user id -> *Report
	lastCycle sync.Map // "cycle" -> *CycleReport
}

// New returns a Pipeline. Options left at zero fall back to the defaults
// in engine.Defaults.
func New(d Deps, opts Options) *Pipeline {
	def := OptionsFromConfig(engine.Defaults())
	if opts.PerChannelLimit <= 0 {
		opts.PerChannelLimit = def.PerChannelLimit
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if opts.Retry.RetryAfter <= 0 {
		opts.Retry.RetryAfter = def.Retry.RetryAfter
	}
	if opts.Retry.StaleAfter <= 0 {
		opts.Retry.StaleAfter = def.Retry.StaleAfter
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		d:      d,
		opts:   opts,
		logger: logger.With(slog.String("component", "pipeline")),
		base:   base,
		cancel: cancel,
	}
}

// Wait blocks until every triggered background run has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Close cancels triggered runs and waits for them to return.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// LastReport returns the most recent report for a user, if any run started.
func (p *Pipeline) LastReport(userID int64) (*Report, bool) {
	v, ok := p.reports.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Report), true
}

// LastCycle returns the report of the most recent all-users cycle.
func (p *Pipeline) LastCycle() (*CycleReport, bool) {
	v, ok := p.lastCycle.Load("cycle")
	if !ok {
		return nil, false
	}
	return v.(*CycleReport), true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
