// Package search finds phrases in stored transcripts.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/laytan/tubescriber/internal/stem"
	"github.com/laytan/tubescriber/internal/store"
)

var (
	SearchRoutines = 20
	MaxResults     = 100
)

// Source yields transcripts that might match the stemmed words.
type Source interface {
	SearchCandidates(ctx context.Context, channelID string, words []string) ([]store.SearchCandidate, error)
}

type Result struct {
	VideoID     string
	Title       string
	PublishedAt time.Time
	// Offsets are the starts of the lines the matches end in.
	Offsets []time.Duration
}

// Channel searches every transcript of the channel for query.
// The results are sorted based on the published time of the video.
func Channel(ctx context.Context, src Source, log logrus.FieldLogger, channelID, query string) (res []Result, err error) {
	// Retrieves the videos that contain all the words we query.
	// These are optimistic matches, because they have to be in order,
	// and they can span the metadata boundaries.
	candidates, err := src.SearchCandidates(ctx, channelID, stem.Words(query))
	if err != nil {
		return nil, fmt.Errorf("retrieving candidates: %w", err)
	}

	log.WithField("candidates", len(candidates)).Info("searching through optimistic video matches")

	var group errgroup.Group
	group.SetLimit(SearchRoutines)
	var mu sync.Mutex
	for _, c := range candidates {
		group.Go(func() error {
			offsets, err := Video(c.SearchableText, query)
			if err != nil {
				return fmt.Errorf("searching %q: %w", c.VideoID, err)
			}

			if len(offsets) == 0 {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			res = append(res, Result{
				VideoID:     c.VideoID,
				Title:       c.Title,
				PublishedAt: c.PublishedAt,
				Offsets:     offsets,
			})
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("iterating videos: %w", err)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].PublishedAt.Equal(res[j].PublishedAt) {
			return res[i].VideoID < res[j].VideoID
		}
		return res[j].PublishedAt.Before(res[i].PublishedAt)
	})

	log.WithField("matches", len(res)).Infof("found actual video matches, capping to %d", MaxResults)
	if len(res) > MaxResults {
		res = res[:MaxResults]
	}

	return res, nil
}

// Video searches for the query inside a searchable transcript (see stem.Index),
// returning the start of the line every match ends in.
//
// The query and the transcript are stemmed using the stem package, so different
// "styles" of the same word will match. A match may span lines.
func Video(searchable, query string) ([]time.Duration, error) {
	needle := stem.StemLine(query)
	if needle == "" {
		return nil, nil
	}

	var (
		text   strings.Builder
		ends   []int
		starts []time.Duration
	)
	rest := searchable
	for len(rest) > 0 {
		if rest[0] != stem.Meta {
			return nil, fmt.Errorf("malformed searchable transcript at %q", truncate(rest))
		}

		metaEnd := strings.IndexByte(rest[1:], stem.Meta)
		if metaEnd < 0 {
			return nil, fmt.Errorf("unterminated meta at %q", truncate(rest))
		}

		ms, err := strconv.ParseInt(rest[1:1+metaEnd], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse line start: %w", err)
		}
		rest = rest[2+metaEnd:]

		lineEnd := strings.IndexByte(rest, stem.Meta)
		if lineEnd < 0 {
			lineEnd = len(rest)
		}

		text.WriteString(rest[:lineEnd])
		ends = append(ends, text.Len())
		starts = append(starts, time.Duration(ms)*time.Millisecond)
		rest = rest[lineEnd:]
	}

	var (
		res      []time.Duration
		haystack = text.String()
	)
	for from := 0; from < len(haystack); {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			break
		}

		end := from + i + len(needle)
		line := sort.SearchInts(ends, end)
		if line < len(starts) && (len(res) == 0 || res[len(res)-1] != starts[line]) {
			res = append(res, starts[line])
		}
		from = end
	}

	return res, nil
}

func truncate(s string) string {
	if len(s) > 20 {
		return s[:20]
	}
	return s
}
