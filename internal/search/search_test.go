package search

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/stem"
	"github.com/laytan/tubescriber/internal/store"
)

func index(lines ...string) string {
	ls := make([]stem.Line, len(lines))
	for i, l := range lines {
		ls[i] = stem.Line{Start: time.Duration(i) * time.Second, Text: l}
	}
	return stem.Index(ls)
}

func TestVideo(t *testing.T) {
	searchable := index(
		"Welcome back gophers",
		"today we are jumping",
		"into channels, jumping into channels again",
	)

	tests := []struct {
		name  string
		query string
		want  []time.Duration
	}{
		{"single line", "Gopher", []time.Duration{0}},
		{"stemmed", "jumps", []time.Duration{time.Second, 2 * time.Second}},
		{"across lines", "gophers today", []time.Duration{time.Second}},
		{"twice in a line reported once", "into channel", []time.Duration{2 * time.Second}},
		{"no match", "rust", nil},
		{"empty query", "?!", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Video(searchable, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVideoMalformed(t *testing.T) {
	_, err := Video("~12", "x")
	assert.Error(t, err)

	_, err = Video("~abc~text ", "text")
	assert.Error(t, err)

	_, err = Video("no meta", "meta")
	assert.Error(t, err)
}

type fakeSource []store.SearchCandidate

func (f fakeSource) SearchCandidates(context.Context, string, []string) ([]store.SearchCandidate, error) {
	return f, nil
}

func TestChannel(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	src := fakeSource{
		{VideoID: "old", PublishedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), SearchableText: index("go routines are great")},
		{VideoID: "new", PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), SearchableText: index("intro", "go routines")},
		{VideoID: "miss", PublishedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), SearchableText: index("routines go")},
	}

	res, err := Channel(context.Background(), src, log, "UC1", "go routine")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "new", res[0].VideoID)
	assert.Equal(t, []time.Duration{time.Second}, res[0].Offsets)
	assert.Equal(t, "old", res[1].VideoID)
}
