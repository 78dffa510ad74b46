package index

import (
	"context"

	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/tube"
)

// Page is one page of an uploads playlist, VideoIDs holds only public
// videos not seen on an earlier page.
type Page struct {
	Number   int
	Token    string
	VideoIDs []string
}

// Walker pages through an uploads playlist.
type Walker struct {
	api      API
	gate     *gate
	pageSize int
}

func NewWalker(api API, budget Budget, policy retry.Policy, pageSize int) *Walker {
	if pageSize <= 0 || pageSize > tube.MaxPageSize {
		pageSize = tube.MaxPageSize
	}
	return &Walker{api: api, gate: newGate(budget, policy), pageSize: pageSize}
}

// Each fetches the playlist page by page, calling fn before requesting the
// next page. An error from fn stops the walk and is returned as is.
//
// A page that keeps failing ends the walk with a *PageFetchError.
// Running out of quota or a done context is returned unwrapped.
func (w *Walker) Each(ctx context.Context, playlistID string, fn func(Page) error) error {
	seen := map[string]bool{}
	token := ""

	for number := 1; ; number++ {
		res, err := call(ctx, w.gate, func(ctx context.Context) (*tube.ResPlaylistItems, error) {
			return w.api.PlaylistItems(ctx, playlistID, token, w.pageSize)
		})
		if err != nil {
			if stopsRun(ctx, err) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			return &PageFetchError{PlaylistID: playlistID, Page: number, Token: token, Err: err}
		}

		page := Page{Number: number, Token: token}
		for _, item := range res.Items {
			id := item.ContentDetails.VideoId
			if id == "" || seen[id] || !item.IsPublic() {
				continue
			}
			seen[id] = true
			page.VideoIDs = append(page.VideoIDs, id)
		}

		if err := fn(page); err != nil {
			return err
		}

		// Repeating a token would loop forever.
		if res.NextPageToken == "" || res.NextPageToken == token {
			return nil
		}
		token = res.NextPageToken
	}
}
