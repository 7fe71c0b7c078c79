package sources

// YouTube implementation is split across files by responsibility:
//   youtube.go           : Client, options, shared helpers
//   youtube_innertube.go : Innertube API types, constants, and low-level HTTP primitives
//   youtube_transcript.go: transcript fetching (ANDROID player, watch page, engagement panel)
//   youtube_feed.go      : channel Atom feed scanning
//   youtube_channel.go   : channel reference → canonical UC… id resolution

import (
	"io"
	"net/http"
	"regexp"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

const (
	ytWebBase       = "https://www.youtube.com"
	ytInnertubeBase = "https://www.youtube.com/youtubei/v1"
)

var videoIDRE = regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:.*&)?v=|shorts/)|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// extractVideoID pulls the 11-char video ID from any YouTube URL format.
func extractVideoID(rawURL string) string {
	if m := videoIDRE.FindStringSubmatch(rawURL); len(m) >= 2 {
		return m[1]
	}
	return ""
}

// WatchURL is the canonical watch page for a video.
func WatchURL(videoID string) string {
	return ytWebBase + "/watch?v=" + videoID
}

// Client talks to the public YouTube web endpoints. The zero value is not
// usable; build one with NewClient.
type Client struct {
	webBase       string
	innertubeBase string
	http          *http.Client
	browser       PageFetcher
}

// PageFetcher fetches a page with a browser-like TLS fingerprint.
// engine.BrowserClient implements it.
type PageFetcher interface {
	Do(method, url string, headers map[string]string, body io.Reader) ([]byte, int, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs points the client at alternative hosts (tests use httptest servers).
func WithBaseURLs(web, innertube string) Option {
	return func(c *Client) {
		c.webBase = web
		c.innertubeBase = innertube
	}
}

// WithHTTPClient overrides the engine-wide HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBrowser makes channel page lookups go through b first.
func WithBrowser(b PageFetcher) Option {
	return func(c *Client) { c.browser = b }
}

// NewClient returns a Client using the engine configuration by default.
func NewClient(opts ...Option) *Client {
	c := &Client{webBase: ytWebBase, innertubeBase: ytInnertubeBase}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return engine.Cfg.HTTPClient
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	return c.httpClient().Do(req)
}
