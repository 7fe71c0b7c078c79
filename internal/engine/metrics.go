package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	CyclesStarted       atomic.Int64
	FeedRequests        atomic.Int64
	FeedErrors          atomic.Int64
	ChannelLookups      atomic.Int64
	TranscriptRequests  atomic.Int64
	TranscriptFallbacks atomic.Int64
	TranscriptMissing   atomic.Int64
	LLMCalls            atomic.Int64
	LLMErrors           atomic.Int64
	SummariesGenerated  atomic.Int64
	SummariesRejected   atomic.Int64
	ClaimsLost          atomic.Int64
	EmailsSent          atomic.Int64
	DeliveryErrors      atomic.Int64
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"cycles_started":       metrics.CyclesStarted.Load(),
		"feed_requests":        metrics.FeedRequests.Load(),
		"feed_errors":          metrics.FeedErrors.Load(),
		"channel_lookups":      metrics.ChannelLookups.Load(),
		"transcript_requests":  metrics.TranscriptRequests.Load(),
		"transcript_fallbacks": metrics.TranscriptFallbacks.Load(),
		"transcript_missing":   metrics.TranscriptMissing.Load(),
		"llm_calls":            metrics.LLMCalls.Load(),
		"llm_errors":           metrics.LLMErrors.Load(),
		"summaries_generated":  metrics.SummariesGenerated.Load(),
		"summaries_rejected":   metrics.SummariesRejected.Load(),
		"claims_lost":          metrics.ClaimsLost.Load(),
		"emails_sent":          metrics.EmailsSent.Load(),
		"delivery_errors":      metrics.DeliveryErrors.Load(),
		"cache_hits":           hits,
		"cache_misses":         misses,
	}
}

var metricKeys = []string{
	"cycles_started",
	"feed_requests", "feed_errors",
	"channel_lookups",
	"transcript_requests", "transcript_fallbacks", "transcript_missing",
	"llm_calls", "llm_errors",
	"summaries_generated", "summaries_rejected",
	"claims_lost",
	"emails_sent", "delivery_errors",
	"cache_hits", "cache_misses",
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for sub-packages.
func IncrCycles()              { metrics.CyclesStarted.Add(1) }
func IncrFeedRequests()        { metrics.FeedRequests.Add(1) }
func IncrFeedErrors()          { metrics.FeedErrors.Add(1) }
func IncrChannelLookups()      { metrics.ChannelLookups.Add(1) }
func IncrTranscript()          { metrics.TranscriptRequests.Add(1) }
func IncrTranscriptFallback()  { metrics.TranscriptFallbacks.Add(1) }
func IncrTranscriptMissing()   { metrics.TranscriptMissing.Add(1) }
func IncrSummariesGenerated()  { metrics.SummariesGenerated.Add(1) }
func IncrSummariesRejected()   { metrics.SummariesRejected.Add(1) }
func IncrClaimsLost()          { metrics.ClaimsLost.Add(1) }
func IncrEmailsSent()          { metrics.EmailsSent.Add(1) }
func IncrDeliveryErrors()      { metrics.DeliveryErrors.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 5*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
