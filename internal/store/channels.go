package store

import (
	"context"
	"fmt"
)

// AddChannel registers a channel for a user. A duplicate (user, channel) yields ErrAlreadyExists.
func (s *Store) AddChannel(ctx context.Context, c *Channel) error {
	c.CreatedAt = s.stamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_channels (user_id, channel_id, source, title, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel_id) DO NOTHING`,
		c.UserID, c.ChannelID, c.Source, c.Title, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add channel: %w", err)
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
	c.ID = id
	return nil
}

// ListChannels returns a user's channels, most recently added first.
func (s *Store) ListChannels(ctx context.Context, userID int64) ([]Channel, error) {
	var out []Channel
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM user_channels WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return out, nil
}

// DeleteChannel removes one of the user's channels by row id.
func (s *Store) DeleteChannel(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_channels WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
