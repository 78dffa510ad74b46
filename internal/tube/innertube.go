package tube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
	"golang.org/x/time/rate"
)

// Innertube fetches transcripts through the player and transcript endpoints
// the YouTube web client uses, without touching the Data API.
type Innertube struct {
	client    youtube.Client
	limiter   *rate.Limiter
	Languages []string
}

func NewInnertube(httpClient *http.Client, limiter *rate.Limiter, languages []string) *Innertube {
	return &Innertube{
		client:    youtube.Client{HTTPClient: httpClient},
		limiter:   limiter,
		Languages: languages,
	}
}

func (i *Innertube) Captions(ctx context.Context, videoId string) (*Transcript, error) {
	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	video, err := i.client.GetVideoContext(ctx, videoId)
	if err != nil {
		return nil, fmt.Errorf("retrieving player data of %q: %w", videoId, innertubeErr(err))
	}

	tracks := make([]ResTrack, 0, len(video.CaptionTracks))
	for _, t := range video.CaptionTracks {
		tracks = append(tracks, ResTrack{
			BaseUrl:        t.BaseURL,
			LanguageCode:   t.LanguageCode,
			Kind:           t.Kind,
			IsTranslatable: t.IsTranslatable,
		})
	}

	track, trackType := bestTrack(tracks, i.Languages)
	if trackType == TypeNone {
		return nil, fmt.Errorf("video %q: %w", videoId, ErrNoCaptions)
	}

	segments, err := i.client.GetTranscriptCtx(ctx, video, track.LanguageCode)
	if err != nil {
		return nil, fmt.Errorf("retrieving transcript of %q: %w", videoId, innertubeErr(err))
	}

	transcript := &Transcript{
		Language: track.LanguageCode,
		Type:     trackType,
		Entries:  make([]Entry, 0, len(segments)),
	}
	for _, s := range segments {
		transcript.Entries = append(transcript.Entries, Entry{
			Text:  s.Text,
			Start: float64(s.StartMs) / 1000,
			Dur:   float64(s.Duration) / 1000,
		})
	}
	transcript.clean()

	if len(transcript.Entries) == 0 {
		return nil, fmt.Errorf("empty transcript for %q: %w", videoId, ErrNoCaptions)
	}

	return transcript, nil
}

// innertubeErr maps library errors onto the package's sentinels.
func innertubeErr(err error) error {
	switch {
	case errors.Is(err, youtube.ErrTranscriptDisabled):
		return fmt.Errorf("%w: %v", ErrNoCaptions, err)
	case errors.Is(err, youtube.ErrVideoPrivate), errors.Is(err, youtube.ErrLoginRequired):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		return &StatusError{Code: int(status), Message: http.StatusText(int(status))}
	}

	if strings.Contains(err.Error(), "status: ERROR") || strings.Contains(err.Error(), "unavailable") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}
