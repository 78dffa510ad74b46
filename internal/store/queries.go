package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/laytan/tubescriber/internal/stem"
)

const upsertChannel = `
INSERT INTO channels (
    id, handle, title, description, custom_url, subscriber_count,
    video_count, uploads_playlist_id, thumbnail_url, first_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    handle = excluded.handle,
    title = excluded.title,
    description = excluded.description,
    custom_url = excluded.custom_url,
    subscriber_count = excluded.subscriber_count,
    video_count = excluded.video_count,
    uploads_playlist_id = excluded.uploads_playlist_id,
    thumbnail_url = excluded.thumbnail_url`

// UpsertChannel inserts the channel or refreshes its mutable fields.
func (s *Store) UpsertChannel(ctx context.Context, ch Channel) error {
	if ch.FirstSeenAt.IsZero() {
		ch.FirstSeenAt = s.now()
	}

	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.q.db.ExecContext(ctx, upsertChannel,
			ch.ID, ch.Handle, ch.Title, ch.Description, ch.CustomUrl, ch.SubscriberCount,
			ch.VideoCount, ch.UploadsPlaylistID, ch.ThumbnailUrl, ch.FirstSeenAt,
		)
		return err
	})
	return errors.Wrapf(err, "upserting channel %q", ch.ID)
}

const upsertVideo = `
INSERT INTO videos (
    id, channel_id, title, description, published_at, duration_seconds,
    view_count, like_count, comment_count, engagement, thumbnail_url, first_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    channel_id = excluded.channel_id,
    title = excluded.title,
    description = excluded.description,
    published_at = excluded.published_at,
    duration_seconds = excluded.duration_seconds,
    view_count = excluded.view_count,
    like_count = excluded.like_count,
    comment_count = excluded.comment_count,
    engagement = excluded.engagement,
    thumbnail_url = excluded.thumbnail_url`

// UpsertVideo inserts the video or replaces its metadata.
func (s *Store) UpsertVideo(ctx context.Context, v Video) error {
	if v.FirstSeenAt.IsZero() {
		v.FirstSeenAt = s.now()
	}

	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.q.db.ExecContext(ctx, upsertVideo,
			v.ID, v.ChannelID, v.Title, v.Description, v.PublishedAt.UTC(), int64(v.Duration/time.Second),
			v.ViewCount, v.LikeCount, v.CommentCount, v.Engagement, v.ThumbnailUrl, v.FirstSeenAt,
		)
		return err
	})
	return errors.Wrapf(err, "upserting video %q", v.ID)
}

const upsertTranscript = `
INSERT INTO transcripts (video_id, channel_id, language, type, text, searchable_text)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (video_id) DO UPDATE SET
    channel_id = excluded.channel_id,
    language = excluded.language,
    type = excluded.type,
    text = excluded.text,
    searchable_text = excluded.searchable_text`

const upsertSegment = `
INSERT INTO transcript_segments (video_id, seq, start_ms, duration_ms, text)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (video_id, seq) DO UPDATE SET
    start_ms = excluded.start_ms,
    duration_ms = excluded.duration_ms,
    text = excluded.text`

const deleteSegmentsFrom = `DELETE FROM transcript_segments WHERE video_id = $1 AND seq >= $2`

// UpsertTranscript writes the transcript and replaces its segments in one
// transaction. The owning video must have been upserted before.
func (s *Store) UpsertTranscript(ctx context.Context, t Transcript) error {
	lines := make([]stem.Line, len(t.Segments))
	texts := make([]string, len(t.Segments))
	for i, seg := range t.Segments {
		lines[i] = stem.Line{Start: seg.Start, Text: seg.Text}
		texts[i] = seg.Text
	}
	if t.Text == "" {
		t.Text = strings.Join(texts, " ")
	}
	t.SearchableText = stem.Index(lines)

	err := s.write(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(q *Queries) error {
			return q.upsertTranscript(ctx, t)
		})
	})
	return errors.Wrapf(err, "upserting transcript %q", t.VideoID)
}

func (q *Queries) upsertTranscript(ctx context.Context, t Transcript) error {
	if _, err := q.db.ExecContext(ctx, upsertTranscript,
		t.VideoID, t.ChannelID, t.Language, string(t.Type), t.Text, t.SearchableText,
	); err != nil {
		return err
	}

	stmt, err := q.db.PrepareContext(ctx, upsertSegment)
	if err != nil {
		return errors.Wrap(err, "preparing segment upsert")
	}
	defer stmt.Close()

	for i, seg := range t.Segments {
		if _, err := stmt.ExecContext(ctx,
			t.VideoID, i, seg.Start.Milliseconds(), seg.Duration.Milliseconds(), seg.Text,
		); err != nil {
			return errors.Wrapf(err, "upserting segment %d", i)
		}
	}

	_, err = q.db.ExecContext(ctx, deleteSegmentsFrom, t.VideoID, len(t.Segments))
	return errors.Wrap(err, "deleting stale segments")
}

// HasTranscript reports whether a transcript is stored for the video.
func (s *Store) HasTranscript(ctx context.Context, videoID string) (bool, error) {
	var n int
	err := s.q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts WHERE video_id = $1", videoID).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "checking transcript %q", videoID)
	}
	return n > 0, nil
}

const selectChannels = `
SELECT id, handle, title, description, custom_url, subscriber_count,
    video_count, uploads_playlist_id, thumbnail_url, first_seen_at
FROM channels`

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var ch Channel
	err := row.Scan(
		&ch.ID, &ch.Handle, &ch.Title, &ch.Description, &ch.CustomUrl, &ch.SubscriberCount,
		&ch.VideoCount, &ch.UploadsPlaylistID, &ch.ThumbnailUrl, &ch.FirstSeenAt,
	)
	return ch, err
}

// Channels returns every channel ordered by handle.
func (s *Store) Channels(ctx context.Context) ([]Channel, error) {
	rows, err := s.q.db.QueryContext(ctx, selectChannels+" ORDER BY handle, id")
	if err != nil {
		return nil, errors.Wrap(err, "querying channels")
	}
	defer rows.Close()

	var items []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning channel")
		}
		items = append(items, ch)
	}
	return items, errors.Wrap(rows.Err(), "iterating channels")
}

// ChannelByHandle returns the channel last resolved from handle.
func (s *Store) ChannelByHandle(ctx context.Context, handle string) (*Channel, error) {
	row := s.q.db.QueryRowContext(ctx, selectChannels+" WHERE handle = $1", handle)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "channel %q", handle)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying channel %q", handle)
	}
	return &ch, nil
}

const selectVideos = `
SELECT id, channel_id, title, description, published_at, duration_seconds,
    view_count, like_count, comment_count, engagement, thumbnail_url, first_seen_at
FROM videos`

// Videos returns every video, newest first.
func (s *Store) Videos(ctx context.Context) ([]Video, error) {
	rows, err := s.q.db.QueryContext(ctx, selectVideos+" ORDER BY published_at DESC, id")
	if err != nil {
		return nil, errors.Wrap(err, "querying videos")
	}
	defer rows.Close()

	var items []Video
	for rows.Next() {
		var (
			v        Video
			duration int64
		)
		if err := rows.Scan(
			&v.ID, &v.ChannelID, &v.Title, &v.Description, &v.PublishedAt, &duration,
			&v.ViewCount, &v.LikeCount, &v.CommentCount, &v.Engagement, &v.ThumbnailUrl, &v.FirstSeenAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning video")
		}
		v.Duration = time.Duration(duration) * time.Second
		v.PublishedAt = v.PublishedAt.UTC()
		items = append(items, v)
	}
	return items, errors.Wrap(rows.Err(), "iterating videos")
}

// Transcripts returns every transcript with its segments, ordered like Videos.
func (s *Store) Transcripts(ctx context.Context) ([]Transcript, error) {
	rows, err := s.q.db.QueryContext(ctx, `
SELECT t.video_id, t.channel_id, t.language, t.type, t.text, t.searchable_text
FROM transcripts t
JOIN videos v ON v.id = t.video_id
ORDER BY v.published_at DESC, t.video_id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying transcripts")
	}
	defer rows.Close()

	var items []Transcript
	index := map[string]int{}
	for rows.Next() {
		var (
			t   Transcript
			typ string
		)
		if err := rows.Scan(&t.VideoID, &t.ChannelID, &t.Language, &typ, &t.Text, &t.SearchableText); err != nil {
			return nil, errors.Wrap(err, "scanning transcript")
		}
		t.Type = TranscriptType(typ)
		index[t.VideoID] = len(items)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating transcripts")
	}
	rows.Close()

	segRows, err := s.q.db.QueryContext(ctx,
		"SELECT video_id, start_ms, duration_ms, text FROM transcript_segments ORDER BY video_id, seq")
	if err != nil {
		return nil, errors.Wrap(err, "querying segments")
	}
	defer segRows.Close()

	for segRows.Next() {
		var (
			videoID         string
			start, duration int64
			text            string
		)
		if err := segRows.Scan(&videoID, &start, &duration, &text); err != nil {
			return nil, errors.Wrap(err, "scanning segment")
		}

		i, ok := index[videoID]
		if !ok {
			continue
		}
		items[i].Segments = append(items[i].Segments, Segment{
			Start:    time.Duration(start) * time.Millisecond,
			Duration: time.Duration(duration) * time.Millisecond,
			Text:     text,
		})
	}
	return items, errors.Wrap(segRows.Err(), "iterating segments")
}

const upsertFailure = `
INSERT INTO failures (kind, subject, channel_id, reason, run_id, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (kind, subject) DO UPDATE SET
    channel_id = excluded.channel_id,
    reason = excluded.reason,
    run_id = excluded.run_id,
    recorded_at = excluded.recorded_at`

// RecordFailure remembers deferred work, replacing an earlier failure of the same kind and subject.
func (s *Store) RecordFailure(ctx context.Context, f Failure) error {
	if f.RecordedAt.IsZero() {
		f.RecordedAt = s.now()
	}

	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.q.db.ExecContext(ctx, upsertFailure,
			string(f.Kind), f.Subject, f.ChannelID, f.Reason, f.RunID, f.RecordedAt,
		)
		return err
	})
	return errors.Wrapf(err, "recording %s failure of %q", f.Kind, f.Subject)
}

// ClearFailures forgets every failure recorded for subject.
func (s *Store) ClearFailures(ctx context.Context, subject string) error {
	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.q.db.ExecContext(ctx, "DELETE FROM failures WHERE subject = $1", subject)
		return err
	})
	return errors.Wrapf(err, "clearing failures of %q", subject)
}

// Failures returns the outstanding failures, most recent first.
func (s *Store) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := s.q.db.QueryContext(ctx, `
SELECT kind, subject, channel_id, reason, run_id, recorded_at
FROM failures
ORDER BY recorded_at DESC, kind, subject`)
	if err != nil {
		return nil, errors.Wrap(err, "querying failures")
	}
	defer rows.Close()

	var items []Failure
	for rows.Next() {
		var (
			f    Failure
			kind string
		)
		if err := rows.Scan(&kind, &f.Subject, &f.ChannelID, &f.Reason, &f.RunID, &f.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scanning failure")
		}
		f.Kind = FailureKind(kind)
		items = append(items, f)
	}
	return items, errors.Wrap(rows.Err(), "iterating failures")
}
