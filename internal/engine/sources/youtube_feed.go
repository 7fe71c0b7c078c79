package sources

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

// ErrFeedUnavailable matches every FeedUnavailableError via errors.Is.
var ErrFeedUnavailable = errors.New("feed unavailable")

// FeedUnavailableError means the channel feed could not be fetched or parsed.
type FeedUnavailableError struct {
	ChannelID string
	Err       error
}

func (e *FeedUnavailableError) Error() string {
	return fmt.Sprintf("feed unavailable for %s: %v", e.ChannelID, e.Err)
}

func (e *FeedUnavailableError) Unwrap() error { return e.Err }

func (e *FeedUnavailableError) Is(target error) bool { return target == ErrFeedUnavailable }

// Entry is one video announced by a channel feed.
type Entry struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Published string `json:"published,omitempty"`
}

// Feed is a parsed channel feed; entries keep upstream order (newest first).
type Feed struct {
	ChannelID string
	Title     string
	Entries   []Entry
}

// Latest yields at most n entries in upstream order. n <= 0 means all.
func (f *Feed) Latest(n int) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i, e := range f.Entries {
			if n > 0 && i >= n {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

type atomFeed struct {
	XMLName   xml.Name    `xml:"feed"`
	Title     string      `xml:"title"`
	ChannelID string      `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Entries   []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// FetchFeed downloads and parses the public Atom feed of a channel.
func (c *Client) FetchFeed(ctx context.Context, channelID string) (*Feed, error) {
	engine.IncrFeedRequests()
	feedURL := c.webBase + "/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)

	fail := func(err error) (*Feed, error) {
		engine.IncrFeedErrors()
		return nil, &FeedUnavailableError{ChannelID: channelID, Err: err}
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		req.Header.Set("Accept", "application/atom+xml, application/xml;q=0.9")
		return c.do(req)
	})
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fail(fmt.Errorf("read feed: %w", err))
	}
	feed, err := parseFeed(body)
	if err != nil {
		return fail(err)
	}
	if feed.ChannelID == "" {
		feed.ChannelID = channelID
	}
	return feed, nil
}

func parseFeed(body []byte) (*Feed, error) {
	var af atomFeed
	if err := xml.Unmarshal(body, &af); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	feed := &Feed{ChannelID: af.ChannelID, Title: engine.NormalizeSpace(af.Title)}
	for _, e := range af.Entries {
		link := alternateLink(e.Links)
		id := e.VideoID
		if id == "" {
			id = extractVideoID(link)
		}
		if id == "" {
			continue
		}
		if link == "" {
			link = WatchURL(id)
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		feed.Entries = append(feed.Entries, Entry{
			VideoID:   id,
			Title:     engine.NormalizeSpace(e.Title),
			URL:       link,
			Published: published,
		})
	}
	return feed, nil
}

func alternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	return ""
}
