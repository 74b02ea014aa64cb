package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
	"github.com/jonesrussell/transcript-refinery/internal/retry"
)

const (
	playerEndpoint = "https://www.youtube.com/youtubei/v1/player"

	// The ANDROID innertube client serves caption tracks without the
	// signature dance the web client requires.
	innertubeClientName    = "ANDROID"
	innertubeClientVersion = "20.10.38"

	defaultHTTPTimeout = 30 * time.Second
)

// Segment is one timed caption line.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// Fetcher retrieves transcripts through the innertube player API.
type Fetcher struct {
	httpClient *http.Client
	logger     logger.Logger
}

// NewFetcher creates a Fetcher with a bounded-timeout HTTP client.
func NewFetcher(log logger.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log,
	}
}

type playerRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" for auto-generated
}

type timedtext struct {
	Texts []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Body     string  `xml:",chardata"`
	} `xml:"text"`
}

// Fetch returns the timed transcript segments for a video, preferring an
// English track and falling back to the first available one. Rate limits
// and network failures are retried with backoff.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) ([]Segment, error) {
	var track *captionTrack
	var segments []Segment

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		track, err = f.resolveTrack(ctx, videoID)
		if err != nil {
			return err
		}
		segments, err = f.fetchTrack(ctx, track.BaseURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.logger.Debug("transcript fetched",
		logger.String("video_id", videoID),
		logger.String("language", track.LanguageCode),
		logger.Int("segments", len(segments)))
	return segments, nil
}

func (f *Fetcher) resolveTrack(ctx context.Context, videoID string) (*captionTrack, error) {
	var reqBody playerRequest
	reqBody.Context.Client.ClientName = innertubeClientName
	reqBody.Context.Client.ClientVersion = innertubeClientVersion
	reqBody.VideoID = videoID

	payload, err := json.Marshal(&reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal player request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, playerEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, models.NewUpstreamError("youtube", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, models.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewUpstreamError("youtube",
			fmt.Errorf("player endpoint returned status %d", resp.StatusCode))
	}

	var player playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&player); err != nil {
		return nil, models.NewUpstreamError("youtube", fmt.Errorf("decode player response: %w", err))
	}

	if s := player.PlayabilityStatus.Status; s != "" && s != "OK" {
		return nil, models.NewUpstreamError("youtube",
			fmt.Errorf("video not playable: %s (%s)", s, player.PlayabilityStatus.Reason))
	}

	tracks := player.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, models.ErrTranscriptUnavailable
	}
	return pickTrack(tracks), nil
}

// pickTrack prefers manual English, then auto-generated English, then the
// first track.
func pickTrack(tracks []captionTrack) *captionTrack {
	var asrEnglish *captionTrack
	for i := range tracks {
		if !strings.HasPrefix(tracks[i].LanguageCode, "en") {
			continue
		}
		if tracks[i].Kind != "asr" {
			return &tracks[i]
		}
		if asrEnglish == nil {
			asrEnglish = &tracks[i]
		}
	}
	if asrEnglish != nil {
		return asrEnglish
	}
	return &tracks[0]
}

func (f *Fetcher) fetchTrack(ctx context.Context, baseURL string) ([]Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build track request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, models.NewUpstreamError("youtube", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, models.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewUpstreamError("youtube",
			fmt.Errorf("timedtext returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewUpstreamError("youtube", err)
	}
	return ParseTimedText(body)
}

// ParseTimedText decodes the timedtext XML body into segments.
func ParseTimedText(body []byte) ([]Segment, error) {
	var tt timedtext
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, models.NewUpstreamError("youtube", fmt.Errorf("parse timedtext: %w", err))
	}

	segments := make([]Segment, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		text := strings.TrimSpace(html.UnescapeString(t.Body))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start:    t.Start,
			Duration: t.Duration,
			Text:     text,
		})
	}
	if len(segments) == 0 {
		return nil, models.ErrTranscriptUnavailable
	}
	return segments, nil
}

// JoinSegments flattens timed segments into one transcript string.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}
