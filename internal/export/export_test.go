package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/store"
)

type fakeSource struct {
	channels    []store.Channel
	videos      []store.Video
	transcripts []store.Transcript
}

func (f *fakeSource) Channels(context.Context) ([]store.Channel, error)       { return f.channels, nil }
func (f *fakeSource) Videos(context.Context) ([]store.Video, error)           { return f.videos, nil }
func (f *fakeSource) Transcripts(context.Context) ([]store.Transcript, error) { return f.transcripts, nil }

func source() *fakeSource {
	return &fakeSource{
		channels: []store.Channel{{ID: "UC1", Handle: "@gophers", Title: "Gophers", Description: "line one\nline two", SubscriberCount: 5, UploadsPlaylistID: "UU1"}},
		videos: []store.Video{
			{
				ID: "v2", ChannelID: "UC1", Title: "Second, with comma", PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Duration: 61 * time.Second, ViewCount: 100, LikeCount: 3, CommentCount: 1,
				Engagement: sql.NullFloat64{Float64: 4, Valid: true},
			},
			{ID: "v1", ChannelID: "UC1", Title: "First", PublishedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		transcripts: []store.Transcript{{
			VideoID: "v2", ChannelID: "UC1", Language: "en", Type: store.TubeAuto,
			Text: "hello gophers", Segments: []store.Segment{{Text: "hello"}, {Text: "gophers"}},
		}},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	e := &Exporter{Dir: dir, Src: source()}

	stats, err := e.Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Channels: 1, Videos: 2, Transcripts: 1}, stats)

	channels := readCSV(t, filepath.Join(dir, TablesDir, ChannelsFile))
	require.Len(t, channels, 2)
	assert.Equal(t, "line one line two", channels[1][6])

	videos := readCSV(t, filepath.Join(dir, TablesDir, VideosFile))
	require.Len(t, videos, 3)
	assert.Equal(t, "video_id", videos[0][0])
	assert.Equal(t, []string{"v2", "UC1", "Second, with comma", "100", "3", "1", "4.0000", "2024-01-01T00:00:00Z", "61", ""}, videos[1])
	assert.Equal(t, "", videos[2][6], "no engagement without views")

	transcripts := readCSV(t, filepath.Join(dir, TablesDir, TranscriptsFile))
	require.Len(t, transcripts, 2)
	assert.Equal(t, []string{"v2", "UC1", "en", "tube_auto", "2", "hello gophers"}, transcripts[1])

	text, err := os.ReadFile(filepath.Join(dir, TranscriptsDir, "v2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\ngophers\n", string(text))
}

func TestMaterializeIsSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := source()
	e := &Exporter{Dir: dir, Src: src}

	_, err := e.Materialize(context.Background())
	require.NoError(t, err)

	first := map[string][]byte{}
	for _, name := range []string{ChannelsFile, VideosFile, TranscriptsFile} {
		first[name], err = os.ReadFile(filepath.Join(dir, TablesDir, name))
		require.NoError(t, err)
	}

	_, err = e.Materialize(context.Background())
	require.NoError(t, err)

	for name, want := range first {
		got, err := os.ReadFile(filepath.Join(dir, TablesDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	stale := filepath.Join(dir, TranscriptsDir, "gone.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, TranscriptsDir, "notes.md"), []byte("keep"), 0o644))

	src.transcripts = nil
	stats, err := e.Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pruned)

	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, filepath.Join(dir, TranscriptsDir, "v2.txt"))
	assert.FileExists(t, filepath.Join(dir, TranscriptsDir, "notes.md"))

	entries, err := os.ReadDir(filepath.Join(dir, TablesDir))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary files left behind")
}
