package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anatolykoptev/go_ytdigest/internal/store"
)

// TriggerUser starts a cycle for one user in the background and returns
// its run id immediately. The run is bounded by the cycle timeout.
func (p *Pipeline) TriggerUser(userID int64) string {
	runID := uuid.NewString()
	p.spawn(runID, func(ctx context.Context) {
		_, _ = p.runUser(ctx, runID, userID)
	})
	return runID
}

// TriggerAll starts a cycle for every user in the background.
func (p *Pipeline) TriggerAll() string {
	runID := uuid.NewString()
	p.spawn(runID, func(ctx context.Context) {
		if _, err := p.runAll(ctx, runID); err != nil {
			p.logger.Warn("triggered cycle failed", slog.String("run", runID), slog.Any("error", err))
		}
	})
	return runID
}

// TriggerGenerate runs GenerateSelected in the background.
func (p *Pipeline) TriggerGenerate(userID int64, videoIDs []string) string {
	runID := uuid.NewString()
	p.spawn(runID, func(ctx context.Context) {
		_, _ = p.generateSelected(ctx, runID, userID, videoIDs)
	})
	return runID
}

func (p *Pipeline) spawn(runID string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background run panicked", slog.String("run", runID), slog.Any("panic", r))
			}
		}()
		ctx, cancel := withTimeout(p.base, p.opts.CycleTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// GenerateSelected retries chosen videos that were scanned but have no
// summary, including abandoned ones. The attempt cap does not apply.
// Videos another run is processing right now are skipped.
func (p *Pipeline) GenerateSelected(ctx context.Context, userID int64, videoIDs []string) (*Report, error) {
	return p.generateSelected(ctx, uuid.NewString(), userID, videoIDs)
}

func (p *Pipeline) generateSelected(ctx context.Context, runID string, userID int64, videoIDs []string) (*Report, error) {
	rep := &Report{RunID: runID, UserID: userID, Status: StatusRunning, StartedAt: stamp(time.Now())}
	p.reports.Store(userID, &Report{RunID: runID, UserID: userID, Status: StatusRunning, StartedAt: rep.StartedAt})
	defer func() { p.reports.Store(userID, rep) }()
	log := p.logger.With(slog.String("run", runID), slog.Int64("user", userID), slog.String("mode", "manual"))

	u, err := p.loadUser(ctx, userID)
	if err != nil {
		status := StatusAborted
		if errors.Is(err, ErrMissingAPIKey) {
			status = StatusSkipped
		}
		rep.finish(status, err)
		return rep, err
	}

	for _, id := range selection(videoIDs) {
		if err := ctx.Err(); err != nil {
			rep.finish(StatusAborted, err)
			return rep, err
		}
		if err := p.generateOne(ctx, log, u, id, rep); err != nil {
			rep.finish(StatusAborted, err)
			log.Warn("manual generate aborted", slog.Any("error", err))
			return rep, err
		}
	}
	rep.finish(StatusDone, nil)
	log.Info("manual generate finished", slog.Int("generated", rep.Generated), slog.Int("failed", rep.Failed))
	return rep, nil
}

func (p *Pipeline) generateOne(ctx context.Context, log *slog.Logger, u *store.User, videoID string, rep *Report) error {
	it, err := p.d.Store.GetScanned(ctx, u.ID, videoID)
	if errors.Is(err, store.ErrNotFound) {
		rep.add(VideoResult{VideoID: videoID, Outcome: OutcomeNotFound, Message: UserMessage(err)})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load scanned %s: %w", videoID, err)
	}
	if it.State == store.StateSummarized {
		rep.add(VideoResult{VideoID: videoID, Title: it.VideoTitle, Outcome: OutcomeAlreadyGenerated})
		return nil
	}
	if err := p.d.Store.Reclaim(ctx, it, p.opts.Retry); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			rep.add(VideoResult{VideoID: videoID, Title: it.VideoTitle, Outcome: OutcomeTaken})
			return nil
		}
		return fmt.Errorf("reclaim %s: %w", videoID, err)
	}
	rep.Retried++
	return p.process(ctx, log, u, it, rep, true)
}

// selection trims, dedups and caps a manual selection, keeping order.
func selection(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == MaxManualSelection {
			break
		}
	}
	return out
}
