package store_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return s
}

func testChannel() store.Channel {
	return store.Channel{
		ID:                "UC1",
		Handle:            "@gophers",
		Title:             "Gophers",
		Description:       "all about go",
		SubscriberCount:   100,
		UploadsPlaylistID: "UU1",
	}
}

func testVideo(id string, published time.Time) store.Video {
	v := store.Video{
		ID:           id,
		ChannelID:    "UC1",
		Title:        "Video " + id,
		PublishedAt:  published,
		Duration:     90 * time.Second,
		ViewCount:    200,
		LikeCount:    10,
		CommentCount: 10,
	}
	v.SetEngagement()
	return v
}

func TestUpsertChannelIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ch := testChannel()
	require.NoError(t, s.UpsertChannel(ctx, ch))
	require.NoError(t, s.UpsertChannel(ctx, ch))

	channels, err := s.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "Gophers", channels[0].Title)

	s.Now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC) }
	ch.Title = "Gophers Renamed"
	ch.SubscriberCount = 200
	require.NoError(t, s.UpsertChannel(ctx, ch))

	channels, err = s.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "Gophers Renamed", channels[0].Title)
	assert.EqualValues(t, 200, channels[0].SubscriberCount)
	assert.True(t, channels[0].FirstSeenAt.Equal(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)), "first seen is kept")

	got, err := s.ChannelByHandle(ctx, "@gophers")
	require.NoError(t, err)
	assert.Equal(t, "UC1", got.ID)

	_, err = s.ChannelByHandle(ctx, "@nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertVideo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, testChannel()))

	older := testVideo("v1", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testVideo("v2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer.ViewCount = 0
	newer.SetEngagement()

	require.NoError(t, s.UpsertVideo(ctx, older))
	require.NoError(t, s.UpsertVideo(ctx, newer))
	require.NoError(t, s.UpsertVideo(ctx, older))

	videos, err := s.Videos(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "v2", videos[0].ID, "newest first")
	assert.False(t, videos[0].Engagement.Valid)
	assert.InDelta(t, 10.0, videos[1].Engagement.Float64, 0.0001)
	assert.Equal(t, 90*time.Second, videos[1].Duration)
	assert.True(t, videos[1].PublishedAt.Equal(older.PublishedAt))

	older.Title = "Updated"
	older.ViewCount = 400
	older.SetEngagement()
	require.NoError(t, s.UpsertVideo(ctx, older))

	videos, err = s.Videos(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "Updated", videos[1].Title)
	assert.InDelta(t, 5.0, videos[1].Engagement.Float64, 0.0001)
}

func TestVideoRequiresChannel(t *testing.T) {
	s := setupTestStore(t)

	err := s.UpsertVideo(context.Background(), testVideo("v1", time.Now()))
	assert.Error(t, err)
}

func TestUpsertTranscriptReplacesSegments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, testChannel()))
	require.NoError(t, s.UpsertVideo(ctx, testVideo("v1", time.Now())))

	tr := store.Transcript{
		VideoID:   "v1",
		ChannelID: "UC1",
		Language:  "en",
		Type:      store.TubeManual,
		Segments: []store.Segment{
			{Start: 0, Duration: time.Second, Text: "Hello gophers"},
			{Start: time.Second, Duration: time.Second, Text: "jumping around"},
			{Start: 2 * time.Second, Duration: time.Second, Text: "the end"},
		},
	}
	require.NoError(t, s.UpsertTranscript(ctx, tr))
	require.NoError(t, s.UpsertTranscript(ctx, tr))

	ts, err := s.Transcripts(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "Hello gophers jumping around the end", ts[0].Text)
	assert.Equal(t, "~0~hello gopher ~1000~jump around ~2000~the end ", ts[0].SearchableText)
	assert.Len(t, ts[0].Segments, 3)

	tr.Segments = tr.Segments[:1]
	require.NoError(t, s.UpsertTranscript(ctx, tr))

	ts, err = s.Transcripts(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "Hello gophers", ts[0].Text)
	require.Len(t, ts[0].Segments, 1)
	assert.Equal(t, store.Segment{Start: 0, Duration: time.Second, Text: "Hello gophers"}, ts[0].Segments[0])

	has, err := s.HasTranscript(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasTranscript(ctx, "v2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTranscriptRequiresVideo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, testChannel()))

	err := s.UpsertTranscript(ctx, store.Transcript{VideoID: "missing", ChannelID: "UC1", Type: store.TubeAuto})
	assert.Error(t, err)

	ts, err := s.Transcripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestFailures(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	f := store.Failure{Kind: store.FailureTranscript, Subject: "v1", ChannelID: "UC1", Reason: "timeout", RunID: "run-1"}
	require.NoError(t, s.RecordFailure(ctx, f))

	f.Reason = "503"
	f.RunID = "run-2"
	require.NoError(t, s.RecordFailure(ctx, f))
	require.NoError(t, s.RecordFailure(ctx, store.Failure{Kind: store.FailureQuota, Subject: "v1", Reason: "quota", RunID: "run-2"}))
	require.NoError(t, s.RecordFailure(ctx, store.Failure{Kind: store.FailureItemNotFound, Subject: "v2", Reason: "gone", RunID: "run-2"}))

	fs, err := s.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, fs, 3)

	for _, f := range fs {
		if f.Kind == store.FailureTranscript {
			assert.Equal(t, "503", f.Reason)
			assert.Equal(t, "run-2", f.RunID)
		}
	}

	require.NoError(t, s.ClearFailures(ctx, "v1"))
	fs, err = s.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "v2", fs[0].Subject)
}

func TestSearchCandidates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, testChannel()))
	require.NoError(t, s.UpsertVideo(ctx, testVideo("v1", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, s.UpsertVideo(ctx, testVideo("v2", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

	for id, text := range map[string]string{"v1": "gophers are jumping", "v2": "gophers sleeping"} {
		require.NoError(t, s.UpsertTranscript(ctx, store.Transcript{
			VideoID: id, ChannelID: "UC1", Type: store.TubeAuto,
			Segments: []store.Segment{{Text: text}},
		}))
	}

	got, err := s.SearchCandidates(ctx, "UC1", []string{"gopher", "jump"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v1", got[0].VideoID)

	got, err = s.SearchCandidates(ctx, "UC1", []string{"gopher"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].VideoID, "newest first")

	got, err = s.SearchCandidates(ctx, "UC1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := setupTestStore(t)

	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, store.Migrate(s.DB(), store.DriverSQLite, log))

	var n int
	err := s.DB().QueryRow("SELECT COUNT(*) FROM transcripts WHERE searchable_text = ''").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.DB().Exec("SELECT 1 FROM failures")
	assert.NoError(t, err)
}
