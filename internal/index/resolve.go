package index

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/store"
	"github.com/laytan/tubescriber/internal/tube"
)

// API is the part of the Data API the pipeline needs, see tube.Client.
type API interface {
	ChannelByHandle(ctx context.Context, handle string) (*tube.ChannelInfo, error)
	PlaylistItems(ctx context.Context, playlistId, token string, pageSize int) (*tube.ResPlaylistItems, error)
	Video(ctx context.Context, id string) (*tube.ResVideo, error)
}

var handleRe = regexp.MustCompile(`^@[\p{L}\p{N}._·-]{3,30}$`)

// NormalizeHandle trims the handle and prefixes it with '@' when missing.
func NormalizeHandle(handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}

	if !handleRe.MatchString(handle) {
		return handle, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return handle, nil
}

// ParseHandles splits comma separated arguments into handles, dropping
// blanks and repeats while keeping the first-seen order.
func ParseHandles(args []string) []string {
	var handles []string
	seen := map[string]bool{}
	for _, arg := range args {
		for _, h := range strings.Split(arg, ",") {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			if !strings.HasPrefix(h, "@") {
				h = "@" + h
			}

			key := strings.ToLower(h)
			if seen[key] {
				continue
			}
			seen[key] = true
			handles = append(handles, h)
		}
	}
	return handles
}

// Resolver turns a handle into a channel record.
type Resolver struct {
	api  API
	gate *gate
}

func NewResolver(api API, budget Budget, policy retry.Policy) *Resolver {
	return &Resolver{api: api, gate: newGate(budget, policy)}
}

// Resolve looks up the channel. Uses 1 quota per attempt.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*store.Channel, error) {
	info, err := call(ctx, r.gate, func(ctx context.Context) (*tube.ChannelInfo, error) {
		return r.api.ChannelByHandle(ctx, handle)
	})
	switch {
	case stopsRun(ctx, err):
		return nil, err
	case errors.Is(err, tube.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, handle)
	case err != nil:
		return nil, fmt.Errorf("resolving %s: %w", handle, err)
	}

	uploads := info.ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return nil, fmt.Errorf("%w: %s has no uploads playlist", ErrChannelNotFound, handle)
	}

	return &store.Channel{
		ID:                info.Id,
		Handle:            handle,
		Title:             info.Snippet.Title,
		Description:       info.Snippet.Description,
		CustomUrl:         info.Snippet.CustomUrl,
		SubscriberCount:   info.Statistics.SubscriberCount,
		VideoCount:        info.Statistics.VideoCount,
		UploadsPlaylistID: uploads,
		ThumbnailUrl:      tube.HighestResThumbnail(info.Snippet.Thumbnails).Url,
	}, nil
}
