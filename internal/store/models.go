package store

import (
	"database/sql"
	"time"
)

type Channel struct {
	ID                string
	Handle            string
	Title             string
	Description       string
	CustomUrl         string
	SubscriberCount   int64
	VideoCount        int64
	UploadsPlaylistID string
	ThumbnailUrl      string
	FirstSeenAt       time.Time
}

type Video struct {
	ID           string
	ChannelID    string
	Title        string
	Description  string
	PublishedAt  time.Time
	Duration     time.Duration
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	// Engagement is (likes + comments) / views * 100, invalid without views.
	Engagement   sql.NullFloat64
	ThumbnailUrl string
	FirstSeenAt  time.Time
}

// SetEngagement derives Engagement from the counts.
func (v *Video) SetEngagement() {
	if v.ViewCount <= 0 {
		v.Engagement = sql.NullFloat64{}
		return
	}

	v.Engagement = sql.NullFloat64{
		Float64: float64(v.LikeCount+v.CommentCount) / float64(v.ViewCount) * 100,
		Valid:   true,
	}
}

type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Text     string
}

type Transcript struct {
	VideoID   string
	ChannelID string
	Language  string
	Type      TranscriptType
	// Text is the segments joined by spaces, derived on upsert when empty.
	Text           string
	SearchableText string
	Segments       []Segment
}

type Failure struct {
	Kind       FailureKind
	Subject    string
	ChannelID  string
	Reason     string
	RunID      string
	RecordedAt time.Time
}

// SearchCandidate is a transcript that contains every queried word somewhere.
type SearchCandidate struct {
	VideoID        string
	Title          string
	PublishedAt    time.Time
	SearchableText string
}
