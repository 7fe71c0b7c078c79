package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/digest"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/notify"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
)

// RunAll runs one cycle for every user. A failing user never stops the
// others; the returned error only covers listing users.
func (p *Pipeline) RunAll(ctx context.Context) (*CycleReport, error) {
	return p.runAll(ctx, uuid.NewString())
}

// RunUser runs one cycle for one user.
func (p *Pipeline) RunUser(ctx context.Context, userID int64) (*Report, error) {
	return p.runUser(ctx, uuid.NewString(), userID)
}

func (p *Pipeline) runAll(ctx context.Context, runID string) (*CycleReport, error) {
	start := time.Now()
	cr := &CycleReport{RunID: runID, StartedAt: stamp(start), Users: []*Report{}}
	ids, err := p.d.Store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	p.logger.Info("cycle started", slog.String("run", runID), slog.Int("users", len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		rep, err := p.runUser(ctx, runID, id)
		if err != nil {
			cr.Errors++
		}
		if rep != nil {
			cr.Users = append(cr.Users, rep)
		}
	}
	cr.FinishedAt = stamp(time.Now())
	p.lastCycle.Store("cycle", cr)
	p.logger.Info("cycle finished",
		slog.String("run", runID),
		slog.Int("users", len(cr.Users)),
		slog.Int("errors", cr.Errors),
		slog.Duration("elapsed", time.Since(start)))
	return cr, ctx.Err()
}

func (p *Pipeline) runUser(ctx context.Context, runID string, userID int64) (*Report, error) {
	engine.IncrCycles()
	rep := &Report{RunID: runID, UserID: userID, Status: StatusRunning, StartedAt: stamp(time.Now())}
	p.reports.Store(userID, &Report{RunID: runID, UserID: userID, Status: StatusRunning, StartedAt: rep.StartedAt})
	defer func() { p.reports.Store(userID, rep) }()

	log := p.logger.With(slog.String("run", runID), slog.Int64("user", userID))

	var err error
	_ = engine.TrackOperation(ctx, fmt.Sprintf("cycle:user:%d", userID), func(ctx context.Context) error {
		err = p.scanUser(ctx, log, userID, rep)
		return err
	})
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		rep.finish(StatusSkipped, err)
		log.Info("user skipped", slog.String("reason", err.Error()))
		return rep, nil
	case err != nil:
		rep.finish(StatusAborted, err)
		log.Warn("user cycle aborted", slog.Any("error", err))
		return rep, err
	}
	rep.finish(StatusDone, nil)
	log.Info("user cycle finished",
		slog.Int("scanned", rep.Scanned),
		slog.Int("retried", rep.Retried),
		slog.Int("generated", rep.Generated),
		slog.Int("failed", rep.Failed))
	return rep, nil
}

// loadUser returns the user after checking the stored key can be unsealed.
// The plaintext is discarded; it is unsealed again right before each use.
func (p *Pipeline) loadUser(ctx context.Context, userID int64) (*store.User, error) {
	u, err := p.d.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}
	if _, err := p.d.Vault.Unseal(u.APIKeySealed); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Pipeline) scanUser(ctx context.Context, log *slog.Logger, userID int64, rep *Report) error {
	u, err := p.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	channels, err := p.d.Store.ListChannels(ctx, userID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	rep.Channels = len(channels)

	for i := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.scanChannel(ctx, log, u, &channels[i], rep); err != nil {
			return err
		}
	}
	return p.retryPass(ctx, log, u, rep)
}

func (p *Pipeline) scanChannel(ctx context.Context, log *slog.Logger, u *store.User, ch *store.Channel, rep *Report) error {
	fctx, cancel := withTimeout(ctx, p.opts.FeedTimeout)
	feed, err := p.d.Feeds.FetchFeed(fctx, ch.ChannelID)
	cancel()
	if err != nil {
		log.Warn("feed unavailable", slog.String("channel", ch.ChannelID), slog.Any("error", err))
		rep.ChannelErrors = append(rep.ChannelErrors, ChannelError{ChannelID: ch.ChannelID, Message: UserMessage(err)})
		return nil
	}

	for e := range feed.Latest(p.opts.PerChannelLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		it := &store.ScannedItem{
			UserID:       u.ID,
			ChannelID:    ch.ChannelID,
			ChannelTitle: ch.DisplayTitle(),
			VideoID:      e.VideoID,
			VideoTitle:   e.Title,
			VideoURL:     e.URL,
			PublishedAt:  e.Published,
		}
		if it.VideoTitle == "" {
			it.VideoTitle = "(제목 없음)"
		}
		if it.VideoURL == "" {
			it.VideoURL = sources.WatchURL(e.VideoID)
		}
		if err := p.d.Store.ClaimScanned(ctx, it); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("claim %s: %w", e.VideoID, err)
		}
		rep.Scanned++
		if err := p.process(ctx, log, u, it, rep, false); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) retryPass(ctx context.Context, log *slog.Logger, u *store.User, rep *Report) error {
	due, err := p.d.Store.DueForRetry(ctx, u.ID, p.opts.Retry)
	if err != nil {
		return fmt.Errorf("list retries: %w", err)
	}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		it := &due[i]
		if err := p.d.Store.Reclaim(ctx, it, p.opts.Retry); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				engine.IncrClaimsLost()
				continue
			}
			return fmt.Errorf("reclaim %s: %w", it.VideoID, err)
		}
		rep.Retried++
		if err := p.process(ctx, log, u, it, rep, true); err != nil {
			return err
		}
	}

	n, err := p.d.Store.AbandonExhausted(ctx, u.ID, p.opts.Retry)
	if err != nil {
		return fmt.Errorf("abandon exhausted: %w", err)
	}
	rep.Abandoned += n
	return nil
}

// process turns a claimed (pending) item into a Generated Item. Per-video
// failures are recorded in the ledger and the report; only a key that can
// no longer be unsealed is returned, which ends the user's cycle.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, u *store.User, it *store.ScannedItem, rep *Report, retry bool) error {
	log = log.With(slog.String("video", it.VideoID))
	result := VideoResult{VideoID: it.VideoID, Title: it.VideoTitle, Retry: retry}

	tctx, cancel := withTimeout(ctx, p.opts.TranscriptTimeout)
	transcript, err := p.d.Transcripts.FetchTranscript(tctx, it.VideoID)
	cancel()
	if err != nil {
		rep.add(p.fail(ctx, log, it, store.StateTranscriptUnavailable, err, result))
		return nil
	}

	key, err := p.d.Vault.Unseal(u.APIKeySealed)
	if err != nil {
		if rerr := p.d.Store.ReleaseClaim(ctx, it.ID, err.Error()); rerr != nil {
			log.Error("release claim failed", slog.Any("error", rerr))
		}
		result.Outcome, result.Message = OutcomeReleased, UserMessage(err)
		rep.add(result)
		return err
	}

	sctx, cancel := withTimeout(ctx, p.opts.SummaryTimeout)
	sum, err := p.d.Summarizer.Summarize(sctx, digest.Request{
		VideoID:      it.VideoID,
		VideoTitle:   it.VideoTitle,
		VideoURL:     it.VideoURL,
		Transcript:   transcript,
		APIKey:       key,
		Model:        u.Model,
		Instructions: u.SummaryPrompt,
	})
	cancel()
	if err != nil {
		rep.add(p.fail(ctx, log, it, store.StateSummaryFailed, err, result))
		return nil
	}

	g := &store.GeneratedItem{
		UserID:       u.ID,
		ChannelID:    it.ChannelID,
		ChannelTitle: it.ChannelTitle,
		VideoID:      it.VideoID,
		VideoTitle:   it.VideoTitle,
		VideoURL:     it.VideoURL,
		Summary:      sum.Render(),
		Delivery:     u.Delivery,
	}
	if err := p.d.Store.CommitGenerated(ctx, g); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			engine.IncrClaimsLost()
			log.Info("summary already committed by another run")
			result.Outcome = OutcomeTaken
			rep.add(result)
			return nil
		}
		rep.add(p.fail(ctx, log, it, store.StateSummaryFailed, err, result))
		return nil
	}

	result.Outcome = OutcomeGenerated
	if err := p.deliver(ctx, u, g); err != nil {
		log.Warn("delivery failed", slog.Any("error", err))
		result.Outcome, result.Message = OutcomeDeliveryFailed, UserMessage(err)
	} else {
		log.Info("summary generated", slog.String("delivery", g.Delivery))
	}
	rep.add(result)
	return nil
}

// deliver sends a committed summary and records the outcome on it. A failed
// delivery never removes the Generated Item.
func (p *Pipeline) deliver(ctx context.Context, u *store.User, g *store.GeneratedItem) error {
	dctx, cancel := withTimeout(ctx, p.opts.DeliveryTimeout)
	err := p.d.Notifier.Deliver(dctx, g.Delivery, notify.Message{
		To:           u.RecipientEmail,
		ChannelTitle: g.ChannelTitle,
		VideoTitle:   g.VideoTitle,
		VideoURL:     g.VideoURL,
		Summary:      g.Summary,
	})
	cancel()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if rerr := p.d.Store.RecordDelivery(ctx, g.ID, reason); rerr != nil {
		p.logger.Error("record delivery failed", slog.Int64("generated", g.ID), slog.Any("error", rerr))
	}
	return err
}

// fail records a per-video failure. Items that used their last attempt
// become abandoned.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, it *store.ScannedItem, state store.ItemState, cause error, result VideoResult) VideoResult {
	if it.Attempts >= p.opts.Retry.MaxAttempts {
		state = store.StateAbandoned
	}
	log.Warn("video failed",
		slog.String("state", string(state)),
		slog.Int("attempt", it.Attempts),
		slog.Any("error", cause))
	if err := p.d.Store.FinishScanned(ctx, it.ID, state, cause.Error()); err != nil {
		log.Error("record failure failed", slog.Any("error", err))
	}
	switch state {
	case store.StateTranscriptUnavailable:
		result.Outcome = OutcomeTranscriptUnavailable
	case store.StateAbandoned:
		result.Outcome = OutcomeAbandoned
	default:
		result.Outcome = OutcomeSummaryFailed
	}
	result.Message = UserMessage(cause)
	return result
}
