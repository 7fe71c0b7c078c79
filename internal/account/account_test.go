package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/vault"
)

const fireshipID = "UCsBjURrPoezykLs9EqgamOA"

type fakeResolver struct{}

func (fakeResolver) ResolveChannel(_ context.Context, input string) (string, error) {
	switch input {
	case "@Fireship", "https://www.youtube.com/@Fireship", fireshipID:
		return fireshipID, nil
	}
	return "", &sources.ResolutionError{Input: input, Err: errors.New("no channel id on page")}
}

type fakeFeeds struct{ err error }

func (f fakeFeeds) FetchFeed(_ context.Context, channelID string) (*sources.Feed, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sources.Feed{ChannelID: channelID, Title: "Fireship"}, nil
}

func newService(t *testing.T, feeds FeedSource) (*Service, *store.Store, *vault.Vault) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	s := New(st, fakeResolver{}, feeds, v, nil)
	s.cost = bcrypt.MinCost
	return s, st, v
}

func ptr[T any](v T) *T { return &v }

func TestRegister(t *testing.T) {
	s, _, _ := newService(t, fakeFeeds{})
	ctx := context.Background()

	u, err := s.Register(ctx, "  Reader@Example.COM ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", u.AccountEmail)
	assert.Equal(t, "reader@example.com", u.RecipientEmail)
	assert.Equal(t, store.DeliveryEmail, u.Delivery)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"taken", "reader@example.com", "another pass", ErrEmailTaken},
		{"short password", "new@example.com", "1234567", ErrWeakPassword},
		{"bad email", "not-an-email", "long enough", ErrInvalidEmail},
		{"display name form", "Reader <x@example.com>", "long enough", ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.want)
			assert.NotEmpty(t, Message(err))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	s, _, _ := newService(t, fakeFeeds{})
	ctx := context.Background()
	u, err := s.Register(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	got, err := s.Authenticate(ctx, "A@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateSettings(t *testing.T) {
	s, st, v := newService(t, fakeFeeds{})
	ctx := context.Background()
	u, err := s.Register(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	got, err := s.UpdateSettings(ctx, u.ID, Settings{
		APIKey:        ptr(" sk-live-123 "),
		Model:         ptr("gpt-4o"),
		SummaryPrompt: ptr("초보자 눈높이로"),
		Delivery:      ptr(store.DeliveryWeb),
	})
	require.NoError(t, err)
	assert.True(t, got.HasAPIKey())
	assert.NotContains(t, got.APIKeySealed, "sk-live-123")

	stored, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	plain, err := v.Unseal(stored.APIKeySealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)
	assert.Equal(t, "gpt-4o", stored.Model)
	assert.Equal(t, store.DeliveryWeb, stored.Delivery)

	// Untouched fields survive a partial update.
	got, err = s.UpdateSettings(ctx, u.ID, Settings{RecipientEmail: ptr("Inbox@Example.com")})
	require.NoError(t, err)
	assert.Equal(t, "inbox@example.com", got.RecipientEmail)
	assert.Equal(t, stored.APIKeySealed, got.APIKeySealed)

	got, err = s.UpdateSettings(ctx, u.ID, Settings{APIKey: ptr("")})
	require.NoError(t, err)
	assert.False(t, got.HasAPIKey())
}

func TestUpdateSettings_Invalid(t *testing.T) {
	s, _, _ := newService(t, fakeFeeds{})
	ctx := context.Background()
	u, err := s.Register(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	for name, in := range map[string]Settings{
		"unknown delivery":       {Delivery: ptr("sms")},
		"empty model":            {Model: ptr("  ")},
		"bad recipient":          {RecipientEmail: ptr("nope")},
		"email without receiver": {RecipientEmail: ptr("")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateSettings(ctx, u.ID, in)
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}

	_, err = s.UpdateSettings(ctx, 999, Settings{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddChannel_DuplicateAcrossForms(t *testing.T) {
	s, _, _ := newService(t, fakeFeeds{})
	ctx := context.Background()
	u, err := s.Register(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	c, err := s.AddChannel(ctx, u.ID, " @Fireship ")
	require.NoError(t, err)
	assert.Equal(t, fireshipID, c.ChannelID)
	assert.Equal(t, "@Fireship", c.Source)
	assert.Equal(t, "Fireship", c.Title)

	_, err = s.AddChannel(ctx, u.ID, "https://www.youtube.com/@Fireship")
	assert.ErrorIs(t, err, ErrDuplicateChannel)

	_, err = s.AddChannel(ctx, u.ID, "not a channel")
	assert.ErrorIs(t, err, sources.ErrResolution)
	assert.Equal(t, "채널 ID 또는 URL을 확인해 주세요.", Message(err))

	list, err := s.ListChannels(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.RemoveChannel(ctx, u.ID, c.ID))
	assert.ErrorIs(t, s.RemoveChannel(ctx, u.ID, c.ID), store.ErrNotFound)
}

func TestAddChannel_TitleLookupFailureIsNotFatal(t *testing.T) {
	s, _, _ := newService(t, fakeFeeds{err: errors.New("feed down")})
	ctx := context.Background()
	u, err := s.Register(ctx, "a@example.com", "password123")
	require.NoError(t, err)

	c, err := s.AddChannel(ctx, u.ID, fireshipID)
	require.NoError(t, err)
	assert.Empty(t, c.Title)
	assert.Equal(t, fireshipID, c.DisplayTitle())
}
