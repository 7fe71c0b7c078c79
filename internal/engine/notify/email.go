package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message/mail"
)

// Message is one summary to deliver.
type Message struct {
	To           string
	ChannelTitle string
	VideoTitle   string
	VideoURL     string
	Summary      string
}

// Subject is the email subject line for a summary.
func (m Message) Subject() string {
	return fmt.Sprintf("[YouTube 요약] %s - %s", m.ChannelTitle, m.VideoTitle)
}

var emailTmpl = template.Must(template.New("email").Funcs(template.FuncMap{
	"lines": func(s string) []string { return strings.Split(s, "\n") },
}).Parse(`<!doctype html>
<html lang="ko">
<head><meta charset="utf-8"></head>
<body style="font-family:'Apple SD Gothic Neo','Noto Sans KR',sans-serif;color:#1a1a2e;max-width:680px;margin:0 auto;padding:20px;">
<div style="border-bottom:3px solid #0b7285;padding-bottom:12px;margin-bottom:20px;">
<h2 style="margin:0;color:#0b7285;">{{.Subject}}</h2>
<p style="margin:4px 0 0;color:#486581;font-size:14px;">채널: {{.ChannelTitle}}</p>
<p style="margin:4px 0 0;color:#486581;font-size:14px;">제목: <a href="{{.VideoURL}}" style="color:#0b7285;">{{.VideoTitle}}</a></p>
</div>
<div style="line-height:1.8;">
{{range lines .Summary}}<p style="margin:0;">{{.}}</p>
{{end}}</div>
<hr style="border:none;border-top:1px solid #d9e2ec;margin:24px 0;">
<p style="font-size:12px;color:#829ab1;">이 메일은 YouTube 자동 요약 서비스에서 발송되었습니다.</p>
</body>
</html>
`))

// RenderHTML renders the HTML body. Values are escaped.
func RenderHTML(m Message) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, struct {
		Message
		Subject string
	}{m, m.Subject()}); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// RenderPlain derives the text/plain alternative from the HTML body.
func RenderPlain(htmlBody string) (string, error) {
	md, err := htmltomarkdown.ConvertString(htmlBody)
	if err != nil {
		return "", fmt.Errorf("render plain text: %w", err)
	}
	return strings.TrimSpace(md) + "\n", nil
}

// Compose builds a multipart/alternative message with plain and HTML parts.
func Compose(from string, m Message, now time.Time) ([]byte, error) {
	htmlBody, err := RenderHTML(m)
	if err != nil {
		return nil, err
	}
	plain, err := RenderPlain(htmlBody)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	var buf bytes.Buffer
	iw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain", plain},
		{"text/html", htmlBody},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		ph.Set("Content-Transfer-Encoding", "base64")
		w, err := iw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", part.contentType, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", part.contentType, err)
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
