package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/laytan/tubescriber/internal/stem"
)

func init() {
	goose.AddMigration(upStemSearchableText, downStemSearchableText)
}

// upStemSearchableText adds the stemmed search column and fills it for
// transcripts stored before it existed.
func upStemSearchableText(tx *sql.Tx) error {
	if _, err := tx.Exec("ALTER TABLE transcripts ADD COLUMN searchable_text TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding searchable_text column: %w", err)
	}

	rows, err := tx.Query("SELECT video_id, start_ms, text FROM transcript_segments ORDER BY video_id, seq")
	if err != nil {
		return fmt.Errorf("retrieving transcript segments: %w", err)
	}
	defer rows.Close()

	lines := map[string][]stem.Line{}
	var order []string
	for rows.Next() {
		var (
			videoID string
			startMs int64
			text    string
		)
		if err := rows.Scan(&videoID, &startMs, &text); err != nil {
			return fmt.Errorf("scanning segment row: %w", err)
		}

		if _, ok := lines[videoID]; !ok {
			order = append(order, videoID)
		}
		lines[videoID] = append(lines[videoID], stem.Line{Start: time.Duration(startMs) * time.Millisecond, Text: text})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating segment rows: %w", err)
	}
	rows.Close()

	for _, videoID := range order {
		if _, err := tx.Exec(
			"UPDATE transcripts SET searchable_text = $1 WHERE video_id = $2",
			stem.Index(lines[videoID]),
			videoID,
		); err != nil {
			return fmt.Errorf("updating transcript %q: %w", videoID, err)
		}
	}

	return nil
}

func downStemSearchableText(tx *sql.Tx) error {
	if _, err := tx.Exec("ALTER TABLE transcripts DROP COLUMN searchable_text"); err != nil {
		return fmt.Errorf("dropping searchable_text column: %w", err)
	}
	return nil
}
