package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const notGenerated = `NOT EXISTS (
	SELECT 1 FROM generated_items g
	WHERE g.user_id = scanned_items.user_id AND g.video_id = scanned_items.video_id)`

// ClaimScanned records a newly seen video as pending with one attempt.
// If the (user, video) pair already exists the ledger is untouched and
// ErrAlreadyExists is returned: the video was seen before or a concurrent
// run owns it.
func (s *Store) ClaimScanned(ctx context.Context, it *ScannedItem) error {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scanned_items (user_id, channel_id, channel_title, video_id, video_title, video_url, published_at, scanned_at, state, attempts, last_error, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, '', ?)
		ON CONFLICT(user_id, video_id) DO NOTHING`,
		it.UserID, it.ChannelID, it.ChannelTitle, it.VideoID, it.VideoTitle, it.VideoURL, it.PublishedAt, now, StatePending, now,
	)
	if err != nil {
		return fmt.Errorf("failed to claim scanned item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	it.ID = id
	it.ScannedAt = now
	it.LastAttemptAt = now
	it.State = StatePending
	it.Attempts = 1
	it.LastError = ""
	return nil
}

// Reclaim moves an existing, not yet summarized item back to pending and
// counts one more attempt. The update is a compare-and-set on the attempts
// and state the caller observed; a concurrent reclaim makes it return
// ErrAlreadyExists. Pending items are only taken over once older than staleAfter.
func (s *Store) Reclaim(ctx context.Context, it *ScannedItem, p RetryPolicy) error {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx, `
		UPDATE scanned_items
		SET state = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ? AND attempts = ? AND state = ?
		  AND state != ?
		  AND (state != ? OR last_attempt_at <= ?)
		  AND `+notGenerated,
		StatePending, now,
		it.ID, it.Attempts, it.State,
		StateSummarized,
		StatePending, s.stampAt(p.StaleAfter),
	)
	if err != nil {
		return fmt.Errorf("failed to reclaim scanned item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	it.Attempts++
	it.State = StatePending
	it.LastAttemptAt = now
	return nil
}

// FinishScanned records the outcome of a pending item that did not produce a summary.
func (s *Store) FinishScanned(ctx context.Context, id int64, state ItemState, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scanned_items SET state = ?, last_error = ?
		WHERE id = ? AND state = ?`,
		state, clip(reason), id, StatePending,
	)
	if err != nil {
		return fmt.Errorf("failed to update scanned item: %w", err)
	}
	return nil
}

// ReleaseClaim returns a pending item to the retry pool without charging
// the attempt. Used when the failure belongs to the user, not the video.
func (s *Store) ReleaseClaim(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scanned_items
		SET state = ?, last_error = ?, attempts = MAX(attempts - 1, 0)
		WHERE id = ? AND state = ?`,
		StateSummaryFailed, clip(reason), id, StatePending,
	)
	if err != nil {
		return fmt.Errorf("failed to release scanned item: %w", err)
	}
	return nil
}

// DueForRetry lists a user's failed or stale-pending items that have
// attempts left and whose last attempt is older than the policy allows.
func (s *Store) DueForRetry(ctx context.Context, userID int64, p RetryPolicy) ([]ScannedItem, error) {
	var out []ScannedItem
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM scanned_items
		WHERE user_id = ? AND attempts < ?
		  AND ((state IN (?, ?) AND last_attempt_at <= ?)
		    OR (state = ? AND last_attempt_at <= ?))
		  AND `+notGenerated+`
		ORDER BY id`,
		userID, p.MaxAttempts,
		StateTranscriptUnavailable, StateSummaryFailed, s.stampAt(p.RetryAfter),
		StatePending, s.stampAt(p.StaleAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry candidates: %w", err)
	}
	return out, nil
}

// AbandonExhausted marks failed items that used up their attempts as abandoned.
func (s *Store) AbandonExhausted(ctx context.Context, userID int64, p RetryPolicy) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scanned_items SET state = ?
		WHERE user_id = ? AND attempts >= ?
		  AND (state IN (?, ?) OR (state = ? AND last_attempt_at <= ?))
		  AND `+notGenerated,
		StateAbandoned,
		userID, p.MaxAttempts,
		StateTranscriptUnavailable, StateSummaryFailed, StatePending, s.stampAt(p.StaleAfter),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon items: %w", err)
	}
	return res.RowsAffected()
}

// CommitGenerated stores the summary and marks the Scanned Item summarized in
// one transaction. ErrAlreadyExists means another run committed first.
func (s *Store) CommitGenerated(ctx context.Context, g *GeneratedItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	g.GeneratedAt = s.stamp()
	if g.Delivery == "" {
		g.Delivery = DeliveryWeb
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO generated_items (user_id, channel_id, channel_title, video_id, video_title, video_url, summary_ko, generated_at, delivery)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, video_id) DO NOTHING`,
		g.UserID, g.ChannelID, g.ChannelTitle, g.VideoID, g.VideoTitle, g.VideoURL, g.Summary, g.GeneratedAt, g.Delivery,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generated item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scanned_items SET state = ?, last_error = ''
		WHERE user_id = ? AND video_id = ?`,
		StateSummarized, g.UserID, g.VideoID,
	); err != nil {
		return fmt.Errorf("failed to mark scanned item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit generated item: %w", err)
	}
	g.ID = id
	return nil
}

// RecordDelivery stores the outcome of delivering a Generated Item.
// An empty reason means success.
func (s *Store) RecordDelivery(ctx context.Context, id int64, reason string) error {
	var err error
	if reason == "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE generated_items SET delivered_at = ?, delivery_error = '' WHERE id = ?`, s.stamp(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE generated_items SET delivery_error = ? WHERE id = ?`, clip(reason), id)
	}
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// GetScanned returns one scanned item.
func (s *Store) GetScanned(ctx context.Context, userID int64, videoID string) (*ScannedItem, error) {
	var it ScannedItem
	err := s.db.GetContext(ctx, &it,
		`SELECT * FROM scanned_items WHERE user_id = ? AND video_id = ?`, userID, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scanned item: %w", err)
	}
	return &it, nil
}

// GetGenerated returns one generated item.
func (s *Store) GetGenerated(ctx context.Context, userID int64, videoID string) (*GeneratedItem, error) {
	var g GeneratedItem
	err := s.db.GetContext(ctx, &g,
		`SELECT * FROM generated_items WHERE user_id = ? AND video_id = ?`, userID, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generated item: %w", err)
	}
	return &g, nil
}

// ListScanned returns a page of a user's scanned items, newest first.
func (s *Store) ListScanned(ctx context.Context, userID int64, page, size int) (*Page[ScannedItem], error) {
	page, size, offset := pageBounds(page, size)
	out := &Page[ScannedItem]{Page: page, PageSize: size, Items: []ScannedItem{}}
	if err := s.db.GetContext(ctx, &out.Total,
		`SELECT COUNT(*) FROM scanned_items WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to count scanned items: %w", err)
	}
	if err := s.db.SelectContext(ctx, &out.Items, `
		SELECT * FROM scanned_items WHERE user_id = ?
		ORDER BY scanned_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, size, offset); err != nil {
		return nil, fmt.Errorf("failed to list scanned items: %w", err)
	}
	return out, nil
}

// ListGenerated returns a page of a user's summaries, newest first.
func (s *Store) ListGenerated(ctx context.Context, userID int64, page, size int) (*Page[GeneratedItem], error) {
	page, size, offset := pageBounds(page, size)
	out := &Page[GeneratedItem]{Page: page, PageSize: size, Items: []GeneratedItem{}}
	if err := s.db.GetContext(ctx, &out.Total,
		`SELECT COUNT(*) FROM generated_items WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to count generated items: %w", err)
	}
	if err := s.db.SelectContext(ctx, &out.Items, `
		SELECT * FROM generated_items WHERE user_id = ?
		ORDER BY generated_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, size, offset); err != nil {
		return nil, fmt.Errorf("failed to list generated items: %w", err)
	}
	return out, nil
}

// DeleteGenerated removes a summary. The Scanned Item stays, so the video
// is not summarized again automatically.
func (s *Store) DeleteGenerated(ctx context.Context, userID int64, videoID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM generated_items WHERE user_id = ? AND video_id = ?`, userID, videoID)
	if err != nil {
		return fmt.Errorf("failed to delete generated item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE scanned_items SET state = ? WHERE user_id = ? AND video_id = ? AND state = ?`,
		StateAbandoned, userID, videoID, StateSummarized); err != nil {
		return fmt.Errorf("failed to update scanned item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// ResetScanned forgets every scanned item of a user that has no summary, so
// the next cycle sees those videos as new again.
func (s *Store) ResetScanned(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scanned_items WHERE user_id = ? AND `+notGenerated, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset scanned items: %w", err)
	}
	return res.RowsAffected()
}
