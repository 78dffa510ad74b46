package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/store"
	"github.com/laytan/tubescriber/internal/tube"
)

// Captioner fetches the transcript of a video, see tube.Innertube and tube.Client.
type Captioner interface {
	Captions(ctx context.Context, videoId string) (*tube.Transcript, error)
}

type TranscriptOutcome int

const (
	TranscriptFetched TranscriptOutcome = iota
	// TranscriptUnavailable is a normal outcome, the video simply has none.
	TranscriptUnavailable
)

// Fetcher gets the metadata and transcript of single videos.
type Fetcher struct {
	api      API
	captions Captioner
	gate     *gate
	log      logrus.FieldLogger
}

func NewFetcher(api API, captions Captioner, budget Budget, policy retry.Policy, log logrus.FieldLogger) *Fetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{api: api, captions: captions, gate: newGate(budget, policy), log: log}
}

// Metadata fetches the video. Uses 1 quota per attempt.
//
// Anything but running out of quota or a done context is reported as
// ErrItemNotFound once the retries are spent.
func (f *Fetcher) Metadata(ctx context.Context, channelID, id string) (*store.Video, error) {
	res, err := call(ctx, f.gate, func(ctx context.Context) (*tube.ResVideo, error) {
		return f.api.Video(ctx, id)
	})
	if err != nil {
		if stopsRun(ctx, err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrItemNotFound, id, err)
	}

	published, err := tube.ParsePublishedTime(res.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrItemNotFound, id, err)
	}

	duration, err := tube.ParseDuration(res.ContentDetails.Duration)
	if err != nil {
		// Upcoming broadcasts have no duration yet.
		f.log.WithField("video", id).WithError(err).Debug("no duration")
	}

	v := &store.Video{
		ID:           id,
		ChannelID:    channelID,
		Title:        res.Snippet.Title,
		Description:  res.Snippet.Description,
		PublishedAt:  published,
		Duration:     duration,
		ViewCount:    res.Statistics.ViewCount,
		LikeCount:    res.Statistics.LikeCount,
		CommentCount: res.Statistics.CommentCount,
		ThumbnailUrl: tube.HighestResThumbnail(res.Snippet.Thumbnails).Url,
	}
	v.SetEngagement()
	return v, nil
}

// Transcript fetches the captions of the video. Uses 1 quota per attempt.
func (f *Fetcher) Transcript(ctx context.Context, video *store.Video) (*store.Transcript, TranscriptOutcome, error) {
	res, err := call(ctx, f.gate, func(ctx context.Context) (*tube.Transcript, error) {
		return f.captions.Captions(ctx, video.ID)
	})
	switch {
	case stopsRun(ctx, err):
		return nil, 0, err
	case errors.Is(err, tube.ErrNoCaptions), errors.Is(err, tube.ErrUnavailable):
		f.log.WithField("video", video.ID).WithError(err).Info("no transcript")
		return nil, TranscriptUnavailable, nil
	case err != nil:
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrTranscriptFailed, video.ID, err)
	}

	if len(res.Entries) == 0 {
		return nil, TranscriptUnavailable, nil
	}

	typ := store.TubeAuto
	if res.Type == tube.TypeManual {
		typ = store.TubeManual
	}

	t := &store.Transcript{
		VideoID:   video.ID,
		ChannelID: video.ChannelID,
		Language:  res.Language,
		Type:      typ,
		Segments:  make([]store.Segment, len(res.Entries)),
	}
	for i, e := range res.Entries {
		t.Segments[i] = store.Segment{
			Start:    seconds(e.Start),
			Duration: seconds(e.Dur),
			Text:     e.Text,
		}
	}
	return t, TranscriptFetched, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
