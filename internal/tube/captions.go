package tube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
)

type ResCaptionsList struct {
	PlayerCaptionsTrackListRenderer struct {
		CaptionTracks []ResTrack
		// There is more, ex:
		// AudioTracks
		// TranslationLanguages
	}
}

type ResTrack struct {
	BaseUrl string
	Name    struct {
		SimpleText string
	}
	LanguageCode   string
	Kind           string
	IsTranslatable bool
}

type TranscriptType int

const (
	TypeNone TranscriptType = iota
	TypeAuto
	TypeManual
)

func (t TranscriptType) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeManual:
		return "manual"
	default:
		return "none"
	}
}

type Transcript struct {
	Language string         `xml:"-"`
	Type     TranscriptType `xml:"-"`
	Entries  []Entry        `xml:"text"`
}

// Entry is one timed line, Start and Dur are in seconds.
type Entry struct {
	Text  string  `xml:",chardata"`
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
}

// Captions scrapes the watch page for caption tracks and downloads the best one.
func (c *Client) Captions(ctx context.Context, videoId string) (*Transcript, error) {
	watch := c.WatchURL
	if watch == "" {
		watch = EndpointWatch
	}

	content, status, err := c.fetch(ctx, watch+"?"+url.Values{"v": {videoId}}.Encode())
	if err != nil {
		return nil, fmt.Errorf("requesting watch page: %w", err)
	}
	sContent := string(content)

	if strings.Contains(sContent, `action="https://consent.youtube.com/s"`) {
		return nil, fmt.Errorf("got consent form for %q", videoId)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("watch page %q: %w", videoId, &StatusError{Code: status, Message: http.StatusText(status)})
	}

	split := strings.Split(sContent, `"captions":`)
	if len(split) <= 1 {
		if strings.Contains(sContent, `class="g-recaptcha"`) {
			return nil, fmt.Errorf("video %q got captcha: %w", videoId, ErrToManyRequests)
		}

		if strings.Contains(sContent, `"playabilityStatus"`) &&
			(strings.Contains(sContent, `"ERROR"`) || strings.Contains(sContent, `"LOGIN_REQUIRED"`)) {
			return nil, fmt.Errorf("video %q not playable: %w", videoId, ErrUnavailable)
		}

		return nil, fmt.Errorf("no captions json for %q: %w", videoId, ErrNoCaptions)
	}

	rawCaptions := strings.ReplaceAll(strings.Split(split[1], `,"videoDetails`)[0], "\n", "")
	captionsList := ResCaptionsList{}
	if err := json.Unmarshal([]byte(rawCaptions), &captionsList); err != nil {
		return nil, fmt.Errorf("could not unmarshal caption results of %q: %w", videoId, err)
	}

	track, trackType := bestTrack(captionsList.PlayerCaptionsTrackListRenderer.CaptionTracks, c.Languages)
	if trackType == TypeNone {
		return nil, fmt.Errorf("video %q: %w", videoId, ErrNoCaptions)
	}

	body, status, err := c.fetch(ctx, track.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("captions request: %w", err)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("captions file of %q: %w", videoId, &StatusError{Code: status, Message: http.StatusText(status)})
	}

	transcript := Transcript{}
	if err := xml.Unmarshal(body, &transcript); err != nil {
		return nil, fmt.Errorf("could not parse transcript xml of %q: %w", videoId, err)
	}

	transcript.Language = track.LanguageCode
	transcript.Type = trackType
	transcript.clean()

	if len(transcript.Entries) == 0 {
		return nil, fmt.Errorf("empty caption track for %q: %w", videoId, ErrNoCaptions)
	}

	return &transcript, nil
}

// clean unescapes the html left in timedtext lines and drops empty ones.
func (t *Transcript) clean() {
	entries := t.Entries[:0]
	for _, e := range t.Entries {
		e.Text = strings.Join(strings.Fields(html.UnescapeString(e.Text)), " ")
		if e.Text != "" {
			entries = append(entries, e)
		}
	}
	t.Entries = entries
}

var defaultLanguages = []string{"en"}

// Returns the "best" track:
// a manual track in a preferred language,
// then an automatic track in a preferred language,
// then any manual track,
// then whatever comes first.
func bestTrack(tracks []ResTrack, languages []string) (*ResTrack, TranscriptType) {
	if len(languages) == 0 {
		languages = defaultLanguages
	}

	for _, lang := range languages {
		for i, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return &tracks[i], TypeManual
			}
		}
	}

	for _, lang := range languages {
		for i, t := range tracks {
			if t.LanguageCode == lang {
				return &tracks[i], TypeAuto
			}
		}
	}

	for i, t := range tracks {
		if t.Kind != "asr" {
			return &tracks[i], TypeManual
		}
	}

	if len(tracks) > 0 {
		return &tracks[0], TypeAuto
	}

	return nil, TypeNone
}
