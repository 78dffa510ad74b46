package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/search"
)

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, nil))
	assert.Equal(t, "no matches\n", buf.String())

	buf.Reset()
	require.NoError(t, writeResults(&buf, []search.Result{{
		VideoID:     "abc",
		Title:       "Gophers",
		PublishedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Offsets:     []time.Duration{90*time.Second + 400*time.Millisecond},
	}}))

	out := buf.String()
	assert.Contains(t, out, "2026-10-01")
	assert.Contains(t, out, "Gophers")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "https://youtu.be/abc?t=90")
}
