// Package export materializes the store as flat files: one CSV per entity
// and a plain text file per transcript.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/laytan/tubescriber/internal/store"
)

const (
	TablesDir      = "tables"
	TranscriptsDir = "transcripts"

	ChannelsFile    = "channels.csv"
	VideosFile      = "videos.csv"
	TranscriptsFile = "transcripts.csv"
)

// Source is the authoritative data being exported.
type Source interface {
	Channels(ctx context.Context) ([]store.Channel, error)
	Videos(ctx context.Context) ([]store.Video, error)
	Transcripts(ctx context.Context) ([]store.Transcript, error)
}

type Exporter struct {
	Dir      string
	Src      Source
	Log      logrus.FieldLogger
	Routines int
}

type Stats struct {
	Channels    int
	Videos      int
	Transcripts int
	Pruned      int
}

// Materialize rewrites every export from the current store contents.
// Files are replaced atomically, transcript files without a stored transcript are removed.
func (e *Exporter) Materialize(ctx context.Context) (Stats, error) {
	var stats Stats

	channels, err := e.Src.Channels(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading channels: %w", err)
	}
	videos, err := e.Src.Videos(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading videos: %w", err)
	}
	transcripts, err := e.Src.Transcripts(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading transcripts: %w", err)
	}

	tablesDir := filepath.Join(e.Dir, TablesDir)
	textDir := filepath.Join(e.Dir, TranscriptsDir)
	for _, dir := range []string{tablesDir, textDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return stats, fmt.Errorf("creating export directory: %w", err)
		}
	}

	routines := e.Routines
	if routines <= 0 {
		routines = 8
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(routines)

	group.Go(func() error {
		return writeCSV(filepath.Join(tablesDir, ChannelsFile), channelRows(channels))
	})
	group.Go(func() error {
		return writeCSV(filepath.Join(tablesDir, VideosFile), videoRows(videos))
	})
	group.Go(func() error {
		return writeCSV(filepath.Join(tablesDir, TranscriptsFile), transcriptRows(transcripts))
	})

	keep := make(map[string]bool, len(transcripts))
	for _, t := range transcripts {
		name := t.VideoID + ".txt"
		keep[name] = true

		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeAtomic(filepath.Join(textDir, name), func(w io.Writer) error {
				for _, seg := range t.Segments {
					if _, err := io.WriteString(w, seg.Text+"\n"); err != nil {
						return err
					}
				}
				return nil
			})
		})
	}

	if err := group.Wait(); err != nil {
		return stats, fmt.Errorf("writing exports: %w", err)
	}

	pruned, err := prune(textDir, keep)
	if err != nil {
		return stats, err
	}

	stats = Stats{
		Channels:    len(channels),
		Videos:      len(videos),
		Transcripts: len(transcripts),
		Pruned:      pruned,
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"channels":    stats.Channels,
			"videos":      stats.Videos,
			"transcripts": stats.Transcripts,
			"pruned":      stats.Pruned,
			"dir":         e.Dir,
		}).Info("materialized exports")
	}

	return stats, nil
}

func channelRows(channels []store.Channel) [][]string {
	rows := [][]string{{
		"channel_id", "channel_handle", "channel_title", "channel_subscribers",
		"channel_video_count", "channel_uploads_playlist_id", "channel_description",
	}}
	for _, ch := range channels {
		rows = append(rows, []string{
			ch.ID,
			ch.Handle,
			clean(ch.Title),
			strconv.FormatInt(ch.SubscriberCount, 10),
			strconv.FormatInt(ch.VideoCount, 10),
			ch.UploadsPlaylistID,
			clean(ch.Description),
		})
	}
	return rows
}

func videoRows(videos []store.Video) [][]string {
	rows := [][]string{{
		"video_id", "channel_id", "video_title", "video_views", "video_likes",
		"video_comments", "video_engagement", "video_published_at",
		"video_duration_seconds", "video_description",
	}}
	for _, v := range videos {
		engagement := ""
		if v.Engagement.Valid {
			engagement = strconv.FormatFloat(v.Engagement.Float64, 'f', 4, 64)
		}

		rows = append(rows, []string{
			v.ID,
			v.ChannelID,
			clean(v.Title),
			strconv.FormatInt(v.ViewCount, 10),
			strconv.FormatInt(v.LikeCount, 10),
			strconv.FormatInt(v.CommentCount, 10),
			engagement,
			v.PublishedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(int64(v.Duration/time.Second), 10),
			clean(v.Description),
		})
	}
	return rows
}

func transcriptRows(transcripts []store.Transcript) [][]string {
	rows := [][]string{{
		"video_id", "channel_id", "transcript_language", "transcript_type",
		"transcript_segments", "video_transcript",
	}}
	for _, t := range transcripts {
		rows = append(rows, []string{
			t.VideoID,
			t.ChannelID,
			t.Language,
			string(t.Type),
			strconv.Itoa(len(t.Segments)),
			clean(t.Text),
		})
	}
	return rows
}

// clean keeps every record on one line.
func clean(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

func writeCSV(path string, rows [][]string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		return nil
	})
}

// writeAtomic writes to a temporary file next to path and renames it into place.
func writeAtomic(path string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := fn(buf); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flushing %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %q: %w", path, err)
	}
	return nil
}

// prune removes transcript files, and stray temporary files, that are not in keep.
func prune(dir string, keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading %q: %w", dir, err)
	}

	var n int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || keep[name] {
			continue
		}
		if !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".tmp") {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return n, fmt.Errorf("removing stale export %q: %w", name, err)
		}
		n++
	}
	return n, nil
}
