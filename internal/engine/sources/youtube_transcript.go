package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

// YouTube transcript fetching.
// Primary:   ANDROID Innertube /player → captionTracks → timedtext XML
// Fallback:  watch page ytInitialPlayerResponse → captionTracks → timedtext XML
// Fallback:  /next → engagement panel → /get_transcript (works from datacenter IPs)

// TranscriptMaxChars is the number of characters kept from a transcript.
const TranscriptMaxChars = 12000

// ErrTranscriptUnavailable matches every TranscriptUnavailableError via errors.Is.
var ErrTranscriptUnavailable = errors.New("transcript unavailable")

// TranscriptUnavailableError means no English transcript could be obtained
// for the video by any strategy, or the transcript was empty.
type TranscriptUnavailableError struct {
	VideoID string
	Err     error
}

func (e *TranscriptUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcript unavailable for %s", e.VideoID)
	}
	return fmt.Sprintf("transcript unavailable for %s: %v", e.VideoID, e.Err)
}

func (e *TranscriptUnavailableError) Unwrap() error { return e.Err }

func (e *TranscriptUnavailableError) Is(target error) bool { return target == ErrTranscriptUnavailable }

type transcriptStrategy struct {
	name string
	run  func(ctx context.Context, videoID string) (string, error)
}

// FetchTranscript returns the English transcript of a video as a single
// whitespace-normalised string, cut to the first TranscriptMaxChars characters.
func (c *Client) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	engine.IncrTranscript()

	strategies := []transcriptStrategy{
		{"player", c.fetchTranscriptViaPlayer},
		{"watch_page", c.fetchTranscriptViaPageScrape},
		{"engagement_panel", c.fetchTranscriptViaEngagementPanel},
	}

	var errs []error
	for i, s := range strategies {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if i > 0 {
			engine.IncrTranscriptFallback()
		}
		text, err := s.run(ctx, videoID)
		if err == nil {
			text = engine.NormalizeSpace(text)
			if text != "" {
				return engine.FirstRunes(text, TranscriptMaxChars), nil
			}
			err = errors.New("empty transcript")
		}
		slog.Debug("youtube: transcript strategy failed",
			slog.String("strategy", s.name), slog.String("id", videoID), slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}

	engine.IncrTranscriptMissing()
	return "", &TranscriptUnavailableError{VideoID: videoID, Err: errors.Join(errs...)}
}

// getTranscriptRE extracts the continuation token from a raw /next JSON response.
var getTranscriptRE = regexp.MustCompile(`"getTranscriptEndpoint":\{"params":"([^"]+)"`)

func extractTranscriptToken(data []byte) (string, error) {
	if m := getTranscriptRE.FindSubmatch(data); len(m) >= 2 {
		// The params value in the /next JSON response is URL-encoded.
		// /get_transcript expects the decoded (raw base64) form.
		decoded, err := url.QueryUnescape(string(m[1]))
		if err != nil {
			return string(m[1]), nil
		}
		return decoded, nil
	}
	return "", errors.New("getTranscriptEndpoint not found in engagement panels")
}

// parseTranscriptSegments extracts plain text from a /get_transcript JSON response.
func parseTranscriptSegments(resp ytGetTranscriptResp) string {
	var sb strings.Builder
	for _, action := range resp.Actions {
		if action.UpdateEngagementPanelAction == nil {
			continue
		}
		segs := action.UpdateEngagementPanelAction.Content.
			TranscriptRenderer.Content.
			TranscriptSearchPanelRenderer.Body.
			TranscriptSegmentListRenderer.InitialSegments
		for _, seg := range segs {
			if seg.TranscriptSegmentRenderer == nil {
				continue
			}
			for _, run := range seg.TranscriptSegmentRenderer.Snippet.Runs {
				if run.Text != "" {
					if sb.Len() > 0 {
						sb.WriteByte(' ')
					}
					sb.WriteString(run.Text)
				}
			}
		}
	}
	return sb.String()
}

// panelLanguages returns the language menu of a /get_transcript response.
func panelLanguages(resp ytGetTranscriptResp) []ytLanguageMenuItem {
	for _, action := range resp.Actions {
		if action.UpdateEngagementPanelAction == nil {
			continue
		}
		items := action.UpdateEngagementPanelAction.Content.
			TranscriptRenderer.Content.
			TranscriptSearchPanelRenderer.Footer.
			TranscriptFooterRenderer.LanguageMenu.
			SortFilterSubMenuRenderer.SubMenuItems
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

func isEnglishTitle(title string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(title)), "english")
}

// pickEnglishPanelLanguage decides which transcript the panel should show.
// It returns ok when the selected language is already English, otherwise the
// continuation that reloads the panel in English: manual before auto-generated.
func pickEnglishPanelLanguage(items []ytLanguageMenuItem) (continuation string, ok bool, err error) {
	if len(items) == 0 {
		return "", false, errors.New("transcript panel has no language menu")
	}
	var auto string
	for _, it := range items {
		if !isEnglishTitle(it.Title) {
			continue
		}
		if it.Selected {
			return "", true, nil
		}
		token := it.Continuation.ReloadContinuationData.Continuation
		if token == "" {
			continue
		}
		if strings.Contains(strings.ToLower(it.Title), "auto-generated") {
			if auto == "" {
				auto = token
			}
			continue
		}
		return token, false, nil
	}
	if auto != "" {
		return auto, false, nil
	}
	return "", false, errors.New("no English transcript in panel")
}

// fetchTranscriptViaEngagementPanel fetches a transcript via:
//  1. POST /next → engagementPanels containing the transcript continuation token
//  2. POST /get_transcript with the token → JSON segments
//  3. if the panel opened in another language, POST /get_transcript again
//     with the English entry of its language menu
func (c *Client) fetchTranscriptViaEngagementPanel(ctx context.Context, videoID string) (string, error) {
	visitorData := generateVisitorData()

	nextData, err := c.postInnerTubeWEB(ctx, "next", map[string]any{
		"videoId": videoID,
		"context": ytWebContext(visitorData),
	}, visitorData)
	if err != nil {
		return "", fmt.Errorf("/next: %w", err)
	}

	token, err := extractTranscriptToken(nextData)
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}

	resp, err := c.getTranscript(ctx, token, visitorData)
	if err != nil {
		return "", err
	}
	english, ok, err := pickEnglishPanelLanguage(panelLanguages(resp))
	if err != nil {
		return "", err
	}
	if !ok {
		if resp, err = c.getTranscript(ctx, english, visitorData); err != nil {
			return "", err
		}
		if _, ok, err = pickEnglishPanelLanguage(panelLanguages(resp)); err != nil || !ok {
			return "", errors.New("transcript panel did not switch to English")
		}
	}

	text := parseTranscriptSegments(resp)
	if text == "" {
		return "", errors.New("empty transcript segments")
	}
	return text, nil
}

func (c *Client) getTranscript(ctx context.Context, params, visitorData string) (ytGetTranscriptResp, error) {
	var out ytGetTranscriptResp
	data, err := c.postInnerTubeWEB(ctx, "get_transcript", map[string]any{
		"params":  params,
		"context": ytWebContext(visitorData),
	}, visitorData)
	if err != nil {
		return out, fmt.Errorf("/get_transcript: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode transcript: %w", err)
	}
	return out, nil
}

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickEnglishTrack selects a usable English caption track: manual first,
// auto-generated second. Non-English and PoToken-gated tracks are never chosen.
func pickEnglishTrack(tracks []captionTrack) (captionTrack, error) {
	var english []captionTrack
	for _, t := range tracks {
		if strings.HasPrefix(strings.ToLower(t.LanguageCode), "en") {
			english = append(english, t)
		}
	}
	if len(english) == 0 {
		return captionTrack{}, errors.New("no English caption track")
	}
	var manual, auto []captionTrack
	for _, t := range english {
		switch {
		case needsPoToken(t.BaseURL):
		case t.Kind == "asr":
			auto = append(auto, t)
		default:
			manual = append(manual, t)
		}
	}
	if len(manual) > 0 {
		return manual[0], nil
	}
	if len(auto) > 0 {
		return auto[0], nil
	}
	return captionTrack{}, errors.New("all English caption tracks require PoToken")
}

// fetchTimedText fetches and parses a YouTube timedtext XML caption URL.
func (c *Client) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		return c.do(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timedtext: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}
	return parseTimedText(body)
}

func parseTimedText(body []byte) (string, error) {
	var tt ytTimedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}

	var sb strings.Builder
	for _, line := range append(tt.Lines, tt.Paras...) {
		text := engine.CaptionText(line.Inner)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// tracksFromPlayer returns caption tracks or a reason why there are none.
func tracksFromPlayer(p innertubePlayerResp) ([]captionTrack, error) {
	if p.Captions == nil {
		if p.PlayabilityStatus != nil && p.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("captions unavailable: %s", p.PlayabilityStatus.Reason)
		}
		return nil, errors.New("no captions in player response")
	}
	tracks := p.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, errors.New("no caption tracks")
	}
	return tracks, nil
}

// fetchTranscriptViaPlayer uses the ANDROID Innertube /player endpoint.
func (c *Client) fetchTranscriptViaPlayer(ctx context.Context, videoID string) (string, error) {
	reqBody, err := json.Marshal(innertubeReq{
		VideoID: videoID,
		Context: innertubeCtx{
			Client: innertubeClient{
				ClientName:        "ANDROID",
				ClientVersion:     ytAndroidVersion,
				AndroidSdkVersion: 30,
				Hl:                "en",
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return "", err
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.innertubeBase+"/player?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", ytAndroidUA)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)
		return c.do(req)
	})
	if err != nil {
		return "", fmt.Errorf("android innertube: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("android innertube: HTTP %d", resp.StatusCode)
	}

	var playerResp innertubePlayerResp
	if err := json.NewDecoder(resp.Body).Decode(&playerResp); err != nil {
		return "", fmt.Errorf("decode player: %w", err)
	}
	tracks, err := tracksFromPlayer(playerResp)
	if err != nil {
		return "", err
	}
	track, err := pickEnglishTrack(tracks)
	if err != nil {
		return "", err
	}
	return c.fetchTimedText(ctx, track.BaseURL)
}

// ytInitialPlayerResponseMarker marks the start of the player response JSON in watch page HTML.
const ytInitialPlayerResponseMarker = "ytInitialPlayerResponse = "

// fetchTranscriptViaPageScrape scrapes the watch page HTML and extracts the
// caption track URL from ytInitialPlayerResponse.
func (c *Client) fetchTranscriptViaPageScrape(ctx context.Context, videoID string) (string, error) {
	watchURL := c.webBase + "/watch?v=" + url.QueryEscape(videoID)

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		return c.do(req)
	})
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("watch page: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(ytInitialPlayerResponseMarker))
	if idx < 0 {
		return "", errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSON(body[idx+len(ytInitialPlayerResponseMarker):])
	if jsonData == nil {
		return "", errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var playerResp innertubePlayerResp
	if err := json.Unmarshal(jsonData, &playerResp); err != nil {
		return "", fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	tracks, err := tracksFromPlayer(playerResp)
	if err != nil {
		return "", err
	}
	track, err := pickEnglishTrack(tracks)
	if err != nil {
		return "", err
	}
	return c.fetchTimedText(ctx, track.BaseURL)
}
