package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

var (
	channelIDRE     = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	handleRE        = regexp.MustCompile(`^@[\p{L}\p{N}._-]{1,100}$`)
	channelPathRE   = regexp.MustCompile(`/channel/(UC[a-zA-Z0-9_-]{22})`)
	channelIDJSONRE = regexp.MustCompile(`"(?:channelId|externalId|browseId)":"(UC[a-zA-Z0-9_-]{22})"`)
)

// ErrResolution matches every ResolutionError via errors.Is.
var ErrResolution = errors.New("channel resolution failed")

// ResolutionError means a channel reference is not recognised or could not
// be translated to a canonical id.
type ResolutionError struct {
	Input string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve channel %q: %v", e.Input, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// IsChannelID reports whether s is a canonical UC… channel id.
func IsChannelID(s string) bool { return channelIDRE.MatchString(s) }

// ResolveChannel turns a channel URL, @handle or canonical id into the
// canonical id. Canonical ids and /channel/UC… URLs are resolved without a
// network call; handles and other channel URLs are looked up on the page.
func (c *Client) ResolveChannel(ctx context.Context, input string) (string, error) {
	ref := strings.TrimSpace(input)
	fail := func(err error) (string, error) {
		return "", &ResolutionError{Input: input, Err: err}
	}

	switch {
	case ref == "":
		return fail(errors.New("empty input"))
	case IsChannelID(ref):
		return ref, nil
	case strings.HasPrefix(ref, "@"):
		if !handleRE.MatchString(ref) {
			return fail(errors.New("malformed handle"))
		}
		return c.lookupChannel(ctx, input, c.webBase+"/"+url.PathEscape(ref))
	}

	pageURL, id, err := c.channelURL(ref)
	if err != nil {
		return fail(err)
	}
	if id != "" {
		return id, nil
	}
	return c.lookupChannel(ctx, input, pageURL)
}

// channelURL classifies a YouTube URL. It returns either the canonical id
// found in the path, or the page to look the id up on.
func (c *Client) channelURL(ref string) (string, string, error) {
	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("not a URL: %w", err)
	}
	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
	default:
		return "", "", errors.New("expected a youtube.com URL, @handle or UC… channel id")
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", "", errors.New("URL has no channel path")
	}

	switch {
	case parts[0] == "channel" && len(parts) >= 2:
		if !IsChannelID(parts[1]) {
			return "", "", errors.New("malformed channel id in URL")
		}
		return "", parts[1], nil
	case strings.HasPrefix(parts[0], "@"):
		// /@handle/videos, /@handle/streams → /@handle
		return c.webBase + "/" + url.PathEscape(parts[0]), "", nil
	case (parts[0] == "c" || parts[0] == "user") && len(parts) >= 2:
		return c.webBase + "/" + parts[0] + "/" + url.PathEscape(parts[1]), "", nil
	case parts[0] == "watch" && u.Query().Get("v") != "":
		return c.webBase + "/watch?v=" + url.QueryEscape(u.Query().Get("v")), "", nil
	}
	return "", "", errors.New("URL does not point at a channel")
}

// lookupChannel fetches a channel (or video) page and extracts the owner's
// canonical id. Results are cached.
func (c *Client) lookupChannel(ctx context.Context, input, pageURL string) (string, error) {
	key := engine.CacheKey("channel_id", pageURL)
	if id, ok := engine.CacheGet(ctx, key); ok && IsChannelID(id) {
		return id, nil
	}
	engine.IncrChannelLookups()

	body, err := c.fetchChannelPage(ctx, pageURL)
	if err != nil {
		return "", &ResolutionError{Input: input, Err: fmt.Errorf("lookup: %w", err)}
	}

	id := channelIDFromPage(body)
	if !IsChannelID(id) {
		return "", &ResolutionError{Input: input, Err: errors.New("channel id not found on page")}
	}
	engine.CacheSet(ctx, key, id)
	return id, nil
}

// channelIDFromPage reads the canonical link and identifier meta tags, then
// falls back to the first channelId in embedded JSON.
func channelIDFromPage(body []byte) string {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
			if m := channelPathRE.FindStringSubmatch(href); len(m) == 2 {
				return m[1]
			}
		}
		for _, sel := range []string{`meta[itemprop="identifier"]`, `meta[itemprop="channelId"]`} {
			if v, ok := doc.Find(sel).Attr("content"); ok && IsChannelID(v) {
				return v
			}
		}
		if href, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok {
			if m := channelPathRE.FindStringSubmatch(href); len(m) == 2 {
				return m[1]
			}
		}
	}
	if m := channelIDJSONRE.FindSubmatch(body); len(m) == 2 {
		return string(m[1])
	}
	return ""
}

func channelPageHeaders() map[string]string {
	h := engine.ChromeHeaders()
	h["accept-language"] = "en-US,en;q=0.9"
	h["cookie"] = "CONSENT=YES+1"
	return h
}

// fetchChannelPage tries the browser-fingerprint client first when one is
// configured, then plain net/http with retries.
func (c *Client) fetchChannelPage(ctx context.Context, pageURL string) ([]byte, error) {
	if c.browser != nil {
		if err := engine.Wait(ctx); err != nil {
			return nil, err
		}
		data, status, err := c.browser.Do(http.MethodGet, pageURL, channelPageHeaders(), nil)
		if err == nil && status == http.StatusOK {
			return data, nil
		}
		slog.Debug("browser page fetch failed, retrying with net/http",
			slog.String("url", pageURL), slog.Int("status", status), slog.Any("error", err))
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range channelPageHeaders() {
			req.Header.Set(k, v)
		}
		req.Header.Del("accept-encoding") // let net/http negotiate gzip
		return c.do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return body, nil
}
