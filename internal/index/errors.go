package index

import (
	"errors"
	"fmt"

	"github.com/laytan/tubescriber/internal/quota"
)

var (
	// ErrChannelNotFound means the handle did not resolve to a channel.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrItemNotFound means a video's metadata could not be fetched.
	ErrItemNotFound = errors.New("item not found")
	// ErrTranscriptFailed means a transcript fetch kept failing, which is
	// different from a video that has no transcript at all.
	ErrTranscriptFailed = errors.New("transcript fetch failed")
	ErrInvalidHandle    = errors.New("invalid handle")

	ErrQuotaExhausted = quota.ErrExhausted
)

// PageFetchError is returned by a walk that could not fetch a page, every page
// before it has been handed out, nothing after it has been requested.
type PageFetchError struct {
	PlaylistID string
	Page       int
	Token      string
	Err        error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetching page %d of %s: %v", e.Page, e.PlaylistID, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }

// PersistError is a failed store write.
type PersistError struct {
	Entity string
	ID     string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persisting %s %s: %v", e.Entity, e.ID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
