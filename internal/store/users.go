package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser inserts a new account. A taken account email yields ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.Model == "" {
		u.Model = "gpt-4o-mini"
	}
	if u.Delivery == "" {
		u.Delivery = DeliveryEmail
	}
	u.CreatedAt = s.stamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (account_email, password_hash, recipient_email, api_key_sealed, model, summary_prompt, delivery, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_email) DO NOTHING`,
		u.AccountEmail, u.PasswordHash, u.RecipientEmail, u.APIKeySealed, u.Model, u.SummaryPrompt, u.Delivery, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
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
	u.ID = id
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM app_users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by (already normalised) account email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM app_users WHERE account_email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUserIDs returns every user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM app_users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

// UpdateUserSettings overwrites the mutable settings of a user.
func (s *Store) UpdateUserSettings(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET recipient_email = ?, api_key_sealed = ?, model = ?, summary_prompt = ?, delivery = ?
		WHERE id = ?`,
		u.RecipientEmail, u.APIKeySealed, u.Model, u.SummaryPrompt, u.Delivery, u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
