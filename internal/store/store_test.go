package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "digest.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func createUser(t *testing.T, s *Store, email string) *User {
	t.Helper()
	u := &User{AccountEmail: email, PasswordHash: "hash", RecipientEmail: email}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func scanned(userID int64, videoID string) *ScannedItem {
	return &ScannedItem{
		UserID:       userID,
		ChannelID:    "UCsBjURrPoezykLs9EqgamOA",
		ChannelTitle: "Fireship",
		VideoID:      videoID,
		VideoTitle:   "Video " + videoID,
		VideoURL:     "https://www.youtube.com/watch?v=" + videoID,
	}
}

func TestCreateUser_Defaults(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "a@example.com")
	assert.Positive(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, DeliveryEmail, got.Delivery)
	assert.False(t, got.HasAPIKey())

	err = s.CreateUser(ctx, &User{AccountEmail: "a@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetUser(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUserSettings(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "b@example.com")

	u.APIKeySealed = "sealed"
	u.Delivery = DeliveryWeb
	u.Model = "gpt-4o"
	require.NoError(t, s.UpdateUserSettings(ctx, u))

	got, err := s.GetUserByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	assert.True(t, got.HasAPIKey())
	assert.Equal(t, DeliveryWeb, got.Delivery)
	assert.Equal(t, "gpt-4o", got.Model)
}

func TestChannels_UniquePerUser(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u1 := createUser(t, s, "c1@example.com")
	u2 := createUser(t, s, "c2@example.com")

	ch := &Channel{UserID: u1.ID, ChannelID: "UCsBjURrPoezykLs9EqgamOA", Source: "@Fireship"}
	require.NoError(t, s.AddChannel(ctx, ch))

	dup := &Channel{UserID: u1.ID, ChannelID: "UCsBjURrPoezykLs9EqgamOA", Source: "https://www.youtube.com/channel/UCsBjURrPoezykLs9EqgamOA"}
	assert.ErrorIs(t, s.AddChannel(ctx, dup), ErrAlreadyExists)

	require.NoError(t, s.AddChannel(ctx, &Channel{UserID: u2.ID, ChannelID: "UCsBjURrPoezykLs9EqgamOA"}))

	list, err := s.ListChannels(ctx, u1.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.DeleteChannel(ctx, u2.ID, ch.ID), ErrNotFound)
	require.NoError(t, s.DeleteChannel(ctx, u1.ID, ch.ID))
}

func TestClaimScanned_Once(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "d@example.com")

	require.NoError(t, s.ClaimScanned(ctx, scanned(u.ID, "v1")))
	assert.ErrorIs(t, s.ClaimScanned(ctx, scanned(u.ID, "v1")), ErrAlreadyExists)

	other := createUser(t, s, "e@example.com")
	require.NoError(t, s.ClaimScanned(ctx, scanned(other.ID, "v1")))
}

func TestClaimScanned_ConcurrentSingleWinner(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "f@example.com")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ClaimScanned(ctx, scanned(u.ID, "race"))
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCommitGenerated(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "g@example.com")

	orphan := &GeneratedItem{UserID: u.ID, ChannelID: "UC", VideoID: "nope", Summary: "x"}
	assert.Error(t, s.CommitGenerated(ctx, orphan), "generated item without scanned item must be rejected")

	it := scanned(u.ID, "v1")
	require.NoError(t, s.ClaimScanned(ctx, it))

	g := &GeneratedItem{UserID: u.ID, ChannelID: it.ChannelID, VideoID: "v1", Summary: "요약", Delivery: DeliveryEmail}
	require.NoError(t, s.CommitGenerated(ctx, g))
	assert.Positive(t, g.ID)

	again := &GeneratedItem{UserID: u.ID, ChannelID: it.ChannelID, VideoID: "v1", Summary: "other"}
	assert.ErrorIs(t, s.CommitGenerated(ctx, again), ErrAlreadyExists)

	got, err := s.GetScanned(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateSummarized, got.State)

	stored, err := s.GetGenerated(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, "요약", stored.Summary)
}

func TestRecordDelivery(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "h@example.com")
	require.NoError(t, s.ClaimScanned(ctx, scanned(u.ID, "v1")))
	g := &GeneratedItem{UserID: u.ID, ChannelID: "UC", VideoID: "v1", Summary: "s"}
	require.NoError(t, s.CommitGenerated(ctx, g))

	require.NoError(t, s.RecordDelivery(ctx, g.ID, "smtp down"))
	got, err := s.GetGenerated(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, "smtp down", got.DeliveryError)
	assert.Empty(t, got.DeliveredAt)

	require.NoError(t, s.RecordDelivery(ctx, g.ID, ""))
	got, err = s.GetGenerated(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Empty(t, got.DeliveryError)
	assert.NotEmpty(t, got.DeliveredAt)
}

func TestRetryLifecycle(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "i@example.com")
	p := RetryPolicy{MaxAttempts: 2, RetryAfter: time.Hour, StaleAfter: 30 * time.Minute}

	it := scanned(u.ID, "v1")
	require.NoError(t, s.ClaimScanned(ctx, it))
	require.NoError(t, s.FinishScanned(ctx, it.ID, StateTranscriptUnavailable, "no captions"))

	due, err := s.DueForRetry(ctx, u.ID, p)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before RetryAfter")

	clock.Advance(61 * time.Minute)
	due, err = s.DueForRetry(ctx, u.ID, p)
	require.NoError(t, err)
	require.Len(t, due, 1)

	first := due[0]
	second := due[0]
	require.NoError(t, s.Reclaim(ctx, &first, p))
	assert.Equal(t, 2, first.Attempts)
	assert.ErrorIs(t, s.Reclaim(ctx, &second, p), ErrAlreadyExists, "stale observation must lose")

	require.NoError(t, s.FinishScanned(ctx, first.ID, StateSummaryFailed, "bad json"))
	clock.Advance(2 * time.Hour)
	due, err = s.DueForRetry(ctx, u.ID, p)
	require.NoError(t, err)
	assert.Empty(t, due, "attempt cap reached")

	n, err := s.AbandonExhausted(ctx, u.ID, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetScanned(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, got.State)
	assert.Equal(t, "bad json", got.LastError)
}

func TestStalePendingIsRetried(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "j@example.com")
	p := RetryPolicy{MaxAttempts: 3, RetryAfter: time.Hour, StaleAfter: 30 * time.Minute}

	it := scanned(u.ID, "v1")
	require.NoError(t, s.ClaimScanned(ctx, it))

	fresh := *it
	assert.ErrorIs(t, s.Reclaim(ctx, &fresh, p), ErrAlreadyExists, "fresh pending claim belongs to its owner")

	clock.Advance(31 * time.Minute)
	due, err := s.DueForRetry(ctx, u.ID, p)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, s.Reclaim(ctx, &due[0], p))
}

func TestReleaseClaimRefundsAttempt(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "k@example.com")
	it := scanned(u.ID, "v1")
	require.NoError(t, s.ClaimScanned(ctx, it))
	require.NoError(t, s.ReleaseClaim(ctx, it.ID, "check your API key"))

	got, err := s.GetScanned(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateSummaryFailed, got.State)
	assert.Equal(t, 0, got.Attempts)
}

func TestListPaginationAndDelete(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "l@example.com")

	for i := range 12 {
		id := fmt.Sprintf("v%02d", i)
		require.NoError(t, s.ClaimScanned(ctx, scanned(u.ID, id)))
		if i%2 == 0 {
			require.NoError(t, s.CommitGenerated(ctx, &GeneratedItem{UserID: u.ID, ChannelID: "UC", VideoID: id, Summary: "s"}))
		}
		clock.Advance(time.Second)
	}

	page, err := s.ListScanned(ctx, u.ID, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "v01", page.Items[0].VideoID)

	gen, err := s.ListGenerated(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, gen.Total)
	assert.Equal(t, "v10", gen.Items[0].VideoID)

	require.NoError(t, s.DeleteGenerated(ctx, u.ID, "v10"))
	assert.ErrorIs(t, s.DeleteGenerated(ctx, u.ID, "v10"), ErrNotFound)
	_, err = s.GetScanned(ctx, u.ID, "v10")
	require.NoError(t, err, "scanned item survives summary deletion")

	n, err := s.ResetScanned(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "six unsummarized plus the one whose summary was deleted")
}

func TestDeleteGenerated_RollsBackOnFailedStateUpdate(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "rb@example.com")

	require.NoError(t, s.ClaimScanned(ctx, scanned(u.ID, "v1")))
	require.NoError(t, s.CommitGenerated(ctx, &GeneratedItem{UserID: u.ID, ChannelID: "UC", VideoID: "v1", Summary: "s"}))

	_, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER block_abandon BEFORE UPDATE ON scanned_items
		WHEN NEW.state = 'abandoned'
		BEGIN SELECT RAISE(ABORT, 'blocked'); END`)
	require.NoError(t, err)

	require.Error(t, s.DeleteGenerated(ctx, u.ID, "v1"))

	gen, err := s.ListGenerated(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Total, "summary must survive a failed delete")
	item, err := s.GetScanned(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateSummarized, item.State)

	_, err = s.db.ExecContext(ctx, `DROP TRIGGER block_abandon`)
	require.NoError(t, err)
	require.NoError(t, s.DeleteGenerated(ctx, u.ID, "v1"))
	item, err = s.GetScanned(ctx, u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, item.State)
}

func TestPing(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
