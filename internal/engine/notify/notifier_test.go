package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	from string
	to   []string
	msg  []byte
	err  error
	sent int
}

func (f *fakeMailer) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.sent++
	f.from, f.to, f.msg = from, to, msg
	return f.err
}

func sampleMessage() Message {
	return Message{
		To:           "reader@example.com",
		ChannelTitle: "Fireship",
		VideoTitle:   "Go in <100> seconds",
		VideoURL:     "https://www.youtube.com/watch?v=abc123DEF45",
		Summary:      "■ 한 줄 요약\nGo는 단순하다.\n\n■ 핵심 내용\n1. 고루틴",
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "[YouTube 요약] Fireship - Go in <100> seconds", sampleMessage().Subject())
}

func TestRenderHTML_Escapes(t *testing.T) {
	body, err := RenderHTML(sampleMessage())
	require.NoError(t, err)
	assert.Contains(t, body, "Go in &lt;100&gt; seconds")
	assert.Contains(t, body, `href="https://www.youtube.com/watch?v=abc123DEF45"`)
	assert.Contains(t, body, "Go는 단순하다.")
	assert.NotContains(t, body, "<100>")
}

func TestDeliver_Web(t *testing.T) {
	m := &fakeMailer{}
	n := New(m, "digest@example.com", nil)
	require.NoError(t, n.Deliver(context.Background(), "web", sampleMessage()))
	assert.Zero(t, m.sent)
}

func TestDeliver_EmailComposesAlternative(t *testing.T) {
	m := &fakeMailer{}
	n := New(m, "digest@example.com", nil)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, n.Deliver(context.Background(), "email", sampleMessage()))
	require.Equal(t, 1, m.sent)
	assert.Equal(t, "digest@example.com", m.from)
	assert.Equal(t, []string{"reader@example.com"}, m.to)

	mr, err := mail.CreateReader(bytes.NewReader(m.msg))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[YouTube 요약] Fireship - Go in <100> seconds", subject)
	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(n.now()))

	parts := map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		h, ok := p.Header.(*mail.InlineHeader)
		require.True(t, ok, "only inline parts expected")
		ct, _, err := h.ContentType()
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		parts[ct] = string(b)
	}

	require.Contains(t, parts, "text/plain")
	require.Contains(t, parts, "text/html")
	assert.Contains(t, parts["text/plain"], "Fireship")
	assert.Contains(t, parts["text/plain"], "고루틴")
	assert.False(t, strings.Contains(parts["text/plain"], "<p"), "plain part must not carry markup")
	assert.Contains(t, parts["text/html"], "<a href=")
}

func TestDeliver_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mailer Mailer
		to     string
		target error
	}{
		{name: "no mailer", mailer: nil, to: "a@b.c", target: ErrMailerNotConfigured},
		{name: "no recipient", mailer: &fakeMailer{}, to: ""},
		{name: "transport error", mailer: &fakeMailer{err: errors.New("554 rejected")}, to: "a@b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sampleMessage()
			msg.To = tt.to
			err := New(tt.mailer, "digest@example.com", nil).Deliver(context.Background(), "email", msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDelivery)
			var de *DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.to, de.To)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}
