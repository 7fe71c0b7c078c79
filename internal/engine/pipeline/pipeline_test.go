package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/digest"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/notify"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/vault"
)

const testKey = "0123456789abcdef0123456789abcdef"

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

type fakeFeeds struct {
	mu      sync.Mutex
	entries map[string][]sources.Entry
	fail    map[string]bool
}

func (f *fakeFeeds) FetchFeed(_ context.Context, channelID string) (*sources.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[channelID] {
		return nil, &sources.FeedUnavailableError{ChannelID: channelID, Err: errors.New("status 404")}
	}
	return &sources.Feed{ChannelID: channelID, Entries: f.entries[channelID]}, nil
}

type fakeTranscripts struct {
	mu    sync.Mutex
	text  map[string]string
	calls map[string]int
	delay time.Duration
}

func (f *fakeTranscripts) FetchTranscript(_ context.Context, videoID string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[videoID]++
	if t, ok := f.text[videoID]; ok {
		return t, nil
	}
	return "", &sources.TranscriptUnavailableError{VideoID: videoID, Err: errors.New("no english captions")}
}

func (f *fakeTranscripts) set(videoID, text string) {
	f.mu.Lock()
	f.text[videoID] = text
	f.mu.Unlock()
}

func (f *fakeTranscripts) count(videoID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[videoID]
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls []digest.Request
	fail  map[string]bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, req digest.Request) (*digest.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.fail[req.VideoID] {
		return nil, &digest.SummarizationError{VideoID: req.VideoID, Err: errors.New("key_terms: got 0 items, want 5")}
	}
	terms := make([]digest.KeyTerm, digest.KeyTermCount)
	for i := range terms {
		terms[i] = digest.KeyTerm{Term: "Goroutine", Korean: "고루틴", Explanation: "경량 스레드"}
	}
	return &digest.Summary{
		OneLine:      req.VideoTitle + " 요약",
		KeyPoints:    []string{"1", "2", "3", "4", "5"},
		Applications: []string{"a", "b", "c"},
		KeyTerms:     terms,
	}, nil
}

func (f *fakeSummarizer) videos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.VideoID
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Deliver(_ context.Context, mode string, m notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if mode == store.DeliveryEmail {
		f.sent = append(f.sent, m)
	}
	return nil
}

// flakyVault fails every Unseal after the first n calls.
type flakyVault struct {
	mu    sync.Mutex
	v     *vault.Vault
	n     int
	calls int
}

func (f *flakyVault) Unseal(s string) (string, error) {
	f.mu.Lock()
	f.calls++
	over := f.calls > f.n
	f.mu.Unlock()
	if over {
		return "", &vault.DecryptionError{Err: errors.New("message authentication failed")}
	}
	return f.v.Unseal(s)
}

type harness struct {
	t           *testing.T
	store       *store.Store
	clock       *fakeClock
	vault       *vault.Vault
	feeds       *fakeFeeds
	transcripts *fakeTranscripts
	summarizer  *fakeSummarizer
	notifier    *fakeNotifier
	p           *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "digest.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	v, err := vault.New(testKey)
	require.NoError(t, err)

	h := &harness{
		t:           t,
		store:       st,
		clock:       clock,
		vault:       v,
		feeds:       &fakeFeeds{entries: map[string][]sources.Entry{}, fail: map[string]bool{}},
		transcripts: &fakeTranscripts{text: map[string]string{}, calls: map[string]int{}},
		summarizer:  &fakeSummarizer{fail: map[string]bool{}},
		notifier:    &fakeNotifier{},
	}
	h.p = h.pipeline(v)
	return h
}

func (h *harness) pipeline(u Unsealer) *Pipeline {
	p := New(Deps{
		Store:       h.store,
		Feeds:       h.feeds,
		Transcripts: h.transcripts,
		Summarizer:  h.summarizer,
		Notifier:    h.notifier,
		Vault:       u,
	}, Options{
		PerChannelLimit: 5,
		Retry:           store.RetryPolicy{MaxAttempts: 2, RetryAfter: time.Hour, StaleAfter: 30 * time.Minute},
	})
	h.t.Cleanup(p.Close)
	return p
}

func (h *harness) user(email string, withKey bool) *store.User {
	h.t.Helper()
	u := &store.User{AccountEmail: email, PasswordHash: "x", RecipientEmail: email}
	if withKey {
		sealed, err := h.vault.Seal("sk-" + email)
		require.NoError(h.t, err)
		u.APIKeySealed = sealed
	}
	require.NoError(h.t, h.store.CreateUser(context.Background(), u))
	return u
}

func (h *harness) channel(u *store.User, channelID string, videos ...string) {
	h.t.Helper()
	require.NoError(h.t, h.store.AddChannel(context.Background(), &store.Channel{
		UserID: u.ID, ChannelID: channelID, Source: channelID, Title: "Channel " + channelID,
	}))
	entries := make([]sources.Entry, len(videos))
	for i, id := range videos {
		entries[i] = sources.Entry{VideoID: id, Title: "Video " + id, URL: sources.WatchURL(id)}
		h.transcripts.set(id, "transcript of "+id)
	}
	h.feeds.mu.Lock()
	h.feeds.entries[channelID] = entries
	h.feeds.mu.Unlock()
}

func (h *harness) generatedCount(userID int64) int {
	h.t.Helper()
	page, err := h.store.ListGenerated(context.Background(), userID, 1, 100)
	require.NoError(h.t, err)
	return page.Total
}

func TestRunUser_GeneratesAndDelivers(t *testing.T) {
	h := newHarness(t)
	u := h.user("reader@example.com", true)
	h.channel(u, "UCone", "v1", "v2")

	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rep.Status)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 2, rep.Generated)
	assert.Equal(t, 2, rep.Delivered)

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, "reader@example.com", h.notifier.sent[0].To)
	assert.Equal(t, "Channel UCone", h.notifier.sent[0].ChannelTitle)

	for _, c := range h.summarizer.calls {
		assert.Equal(t, "sk-reader@example.com", c.APIKey)
		assert.Equal(t, "gpt-4o-mini", c.Model)
	}

	g, err := h.store.GetGenerated(context.Background(), u.ID, "v1")
	require.NoError(t, err)
	assert.Contains(t, g.Summary, "■ 핵심 용어")
	assert.NotEmpty(t, g.DeliveredAt)

	last, ok := h.p.LastReport(u.ID)
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)
}

func TestRunUser_OnlyUnseenVideos(t *testing.T) {
	h := newHarness(t)
	u := h.user("b@example.com", true)
	h.channel(u, "UCone", "v1", "v2")
	seen := &store.ScannedItem{UserID: u.ID, ChannelID: "UCone", VideoID: "v1", VideoTitle: "Video v1"}
	require.NoError(t, h.store.ClaimScanned(context.Background(), seen))
	require.NoError(t, h.store.FinishScanned(context.Background(), seen.ID, store.StateAbandoned, "seen earlier"))

	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, []string{"v2"}, h.summarizer.videos())
}

func TestRunUser_Idempotent(t *testing.T) {
	h := newHarness(t)
	u := h.user("c@example.com", true)
	h.channel(u, "UCone", "v1", "v2", "v3")

	_, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)

	assert.Zero(t, rep.Scanned)
	assert.Zero(t, rep.Generated)
	assert.Len(t, h.summarizer.videos(), 3)
	assert.Equal(t, 3, h.generatedCount(u.ID))
}

func TestRunUser_ConcurrentRunsGenerateOnce(t *testing.T) {
	h := newHarness(t)
	u := h.user("d@example.com", true)
	h.channel(u, "UCone", "v3")
	h.transcripts.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	reports := make([]*Report, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := h.p.RunUser(context.Background(), u.ID)
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	generated := 0
	for _, r := range reports {
		generated += r.Generated
	}
	assert.Equal(t, 1, generated)
	assert.Equal(t, 1, h.generatedCount(u.ID))
	assert.Equal(t, 1, h.transcripts.count("v3"))
}

func TestGeneratedImpliesScanned(t *testing.T) {
	h := newHarness(t)
	u := h.user("e@example.com", true)
	h.channel(u, "UCone", "v1", "v2", "v3")
	h.summarizer.fail["v2"] = true

	_, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)

	page, err := h.store.ListGenerated(context.Background(), u.ID, 1, 100)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, g := range page.Items {
		it, err := h.store.GetScanned(context.Background(), u.ID, g.VideoID)
		require.NoError(t, err)
		assert.Equal(t, store.StateSummarized, it.State)
	}

	failed, err := h.store.GetScanned(context.Background(), u.ID, "v2")
	require.NoError(t, err)
	assert.Equal(t, store.StateSummaryFailed, failed.State)
	_, err = h.store.GetGenerated(context.Background(), u.ID, "v2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryPolicy(t *testing.T) {
	h := newHarness(t)
	u := h.user("f@example.com", true)
	h.channel(u, "UCone")
	h.feeds.entries["UCone"] = []sources.Entry{{VideoID: "nocap", Title: "No captions"}}
	ctx := context.Background()

	rep, err := h.p.RunUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rep.Videos, 1)
	assert.Equal(t, OutcomeTranscriptUnavailable, rep.Videos[0].Outcome)

	// Not due yet.
	_, err = h.p.RunUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.transcripts.count("nocap"))

	h.clock.Advance(61 * time.Minute)
	rep, err = h.p.RunUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Retried)
	require.Len(t, rep.Videos, 1)
	assert.Equal(t, OutcomeAbandoned, rep.Videos[0].Outcome)

	it, err := h.store.GetScanned(ctx, u.ID, "nocap")
	require.NoError(t, err)
	assert.Equal(t, store.StateAbandoned, it.State)
	assert.Equal(t, 2, it.Attempts)

	h.clock.Advance(24 * time.Hour)
	_, err = h.p.RunUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.transcripts.count("nocap"), "abandoned videos are not retried automatically")

	h.transcripts.set("nocap", "captions appeared later")
	rep, err = h.p.GenerateSelected(ctx, u.ID, []string{"nocap", " nocap ", "unknown"})
	require.NoError(t, err)
	require.Len(t, rep.Videos, 2)
	assert.Equal(t, OutcomeGenerated, rep.Videos[0].Outcome)
	assert.Equal(t, OutcomeNotFound, rep.Videos[1].Outcome)
	assert.Equal(t, 1, h.generatedCount(u.ID))
}

func TestRunUser_DeliveryFailureKeepsSummary(t *testing.T) {
	h := newHarness(t)
	u := h.user("g@example.com", true)
	h.channel(u, "UCone", "v1")
	h.notifier.err = &notify.DeliveryError{To: u.RecipientEmail, Err: errors.New("connection refused")}

	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, rep.Videos, 1)
	assert.Equal(t, OutcomeDeliveryFailed, rep.Videos[0].Outcome)
	assert.Equal(t, "요약 메일 발송에 실패했습니다.", rep.Videos[0].Message)

	g, err := h.store.GetGenerated(context.Background(), u.ID, "v1")
	require.NoError(t, err)
	assert.Contains(t, g.DeliveryError, "connection refused")
	assert.Empty(t, g.DeliveredAt)
}

func TestRunUser_FeedFailureSkipsChannel(t *testing.T) {
	h := newHarness(t)
	u := h.user("h@example.com", true)
	h.channel(u, "UCbroken")
	h.channel(u, "UCgood", "v1")
	h.feeds.fail["UCbroken"] = true

	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Channels)
	require.Len(t, rep.ChannelErrors, 1)
	assert.Equal(t, "UCbroken", rep.ChannelErrors[0].ChannelID)
	assert.Equal(t, 1, rep.Generated)
}

func TestRunUser_MissingKeySkips(t *testing.T) {
	h := newHarness(t)
	u := h.user("nokey@example.com", false)
	h.channel(u, "UCone", "v1")

	rep, err := h.p.RunUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, rep.Status)
	assert.Equal(t, "API 키가 설정되지 않았습니다.", rep.Message)

	page, err := h.store.ListScanned(context.Background(), u.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRunAll_DecryptionFailureIsolated(t *testing.T) {
	h := newHarness(t)
	broken := h.user("broken@example.com", false)
	broken.APIKeySealed = "gAAAAABnot-a-valid-token"
	require.NoError(t, h.store.UpdateUserSettings(context.Background(), broken))
	h.channel(broken, "UCa", "a1")
	ok := h.user("ok@example.com", true)
	h.channel(ok, "UCb", "b1")

	cr, err := h.p.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, cr.Users, 2)
	assert.Equal(t, 1, cr.Errors)

	assert.Equal(t, StatusAborted, cr.Users[0].Status)
	assert.Contains(t, cr.Users[0].Message, "API 키")
	assert.Equal(t, StatusDone, cr.Users[1].Status)
	assert.Equal(t, 1, cr.Users[1].Generated)

	_, err = h.store.GetScanned(context.Background(), broken.ID, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing is scanned before the key is usable")

	last, found := h.p.LastCycle()
	require.True(t, found)
	assert.Equal(t, cr.RunID, last.RunID)
}

func TestRunUser_DecryptionMidRunReleasesClaim(t *testing.T) {
	h := newHarness(t)
	u := h.user("i@example.com", true)
	h.channel(u, "UCone", "v1", "v2")
	p := h.pipeline(&flakyVault{v: h.vault, n: 1})

	rep, err := p.RunUser(context.Background(), u.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrDecryption)
	assert.Equal(t, StatusAborted, rep.Status)
	require.Len(t, rep.Videos, 1)
	assert.Equal(t, OutcomeReleased, rep.Videos[0].Outcome)

	it, err := h.store.GetScanned(context.Background(), u.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, store.StateSummaryFailed, it.State)
	assert.Zero(t, it.Attempts)
	assert.Empty(t, h.summarizer.videos())
}

func TestTriggerUser(t *testing.T) {
	h := newHarness(t)
	u := h.user("j@example.com", true)
	h.channel(u, "UCone", "v1")

	runID := h.p.TriggerUser(u.ID)
	assert.NotEmpty(t, runID)
	h.p.Wait()

	rep, ok := h.p.LastReport(u.ID)
	require.True(t, ok)
	assert.Equal(t, runID, rep.RunID)
	assert.Equal(t, StatusDone, rep.Status)
	assert.Equal(t, 1, h.generatedCount(u.ID))
}

func TestSelection(t *testing.T) {
	ids := []string{" a ", "b", "a", ""}
	for i := 0; i < 30; i++ {
		ids = append(ids, string(rune('A'+i)))
	}
	got := selection(ids)
	assert.Len(t, got, MaxManualSelection)
	assert.Equal(t, []string{"a", "b"}, got[:2])
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&vault.DecryptionError{Err: errors.New("x")}, "저장된 API 키를 확인할 수 없습니다. 설정에서 API 키를 다시 입력해 주세요."},
		{&sources.TranscriptUnavailableError{VideoID: "v"}, "영어 자막을 가져올 수 없습니다."},
		{&notify.DeliveryError{Err: notify.ErrMailerNotConfigured}, "메일 발송 설정이 없습니다."},
		{context.DeadlineExceeded, "처리 시간이 초과되었습니다."},
		{errors.New("boom"), "처리 중 오류가 발생했습니다."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err))
	}
}
