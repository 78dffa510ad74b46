package store

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SearchCandidates retrieves the transcripts of a channel that contain every
// word somewhere, words must be stemmed. These are optimistic matches: the
// words may be out of order or span lines, the search package narrows them down.
func (s *Store) SearchCandidates(
	ctx context.Context,
	channelID string,
	words []string,
) ([]SearchCandidate, error) {
	if len(words) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		s.log.WithField("took", time.Since(start)).Debug("search candidates query")
	}()

	query := `
SELECT t.video_id, v.title, v.published_at, t.searchable_text
FROM transcripts t
JOIN videos v ON v.id = t.video_id
WHERE t.channel_id = $1`
	args := []any{channelID}
	for _, word := range words {
		args = append(args, "%"+word+"%")
		query += " AND t.searchable_text LIKE $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY v.published_at DESC, t.video_id"

	rows, err := s.q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying search candidates")
	}
	defer rows.Close()

	var items []SearchCandidate
	for rows.Next() {
		var i SearchCandidate
		if err := rows.Scan(&i.VideoID, &i.Title, &i.PublishedAt, &i.SearchableText); err != nil {
			return nil, errors.Wrap(err, "scanning search candidate")
		}
		items = append(items, i)
	}
	return items, errors.Wrap(rows.Err(), "iterating search candidates")
}
