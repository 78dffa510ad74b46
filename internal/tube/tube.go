// Package tube talks to the YouTube Data API and fetches caption tracks.
package tube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	EndpointBase  = "https://www.googleapis.com/youtube/v3"
	EndpointWatch = "https://www.youtube.com/watch"

	pathChannels      = "/channels"
	pathPlaylistItems = "/playlistItems"
	pathVideos        = "/videos"

	// MaxPageSize is the largest maxResults the API accepts.
	MaxPageSize = 50
)

var (
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrNotFound       = errors.New("not found")
	ErrToManyRequests = errors.New("too many requests")
	ErrNoCaptions     = errors.New("no caption tracks")
	ErrUnavailable    = errors.New("video unavailable")
)

type Thumbnail struct {
	Url    string
	Width  int
	Height int
}

// Client is a Data API client, every request waits on Limiter when set.
type Client struct {
	Key       string
	BaseURL   string
	WatchURL  string
	HTTP      *http.Client
	Limiter   *rate.Limiter
	Languages []string
}

func New(key string, timeout time.Duration, rps float64, burst int) *Client {
	return &Client{
		Key:      key,
		BaseURL:  EndpointBase,
		WatchURL: EndpointWatch,
		HTTP:     &http.Client{Timeout: timeout},
		Limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type ChannelInfo struct {
	Id             string
	ContentDetails struct {
		RelatedPlaylists struct {
			Uploads string
		}
	}
	Snippet struct {
		Title       string
		Description string
		CustomUrl   string
		Thumbnails  map[string]Thumbnail
	}
	Statistics struct {
		SubscriberCount       int64 `json:"subscriberCount,string"`
		VideoCount            int64 `json:"videoCount,string"`
		HiddenSubscriberCount bool
	}
}

// More is returned, this just outlines what we actually use.
type ResChannelInfo struct {
	Items []ChannelInfo
}

// ChannelByHandle looks up a channel by its @handle. Uses 1 quota.
func (c *Client) ChannelByHandle(ctx context.Context, handle string) (*ChannelInfo, error) {
	params := url.Values{
		"part":      {"snippet,contentDetails,statistics"},
		"forHandle": {handle},
	}

	result := ResChannelInfo{}
	if err := c.get(ctx, pathChannels, params, &result); err != nil {
		return nil, fmt.Errorf("retrieving channel %q: %w", handle, err)
	}

	if len(result.Items) == 0 {
		return nil, fmt.Errorf("channel %q: %w", handle, ErrNotFound)
	}

	return &result.Items[0], nil
}

type ResPlaylistItems struct {
	NextPageToken string `json:",omitempty"`
	Items         []PlaylistItem
	PageInfo      struct {
		TotalResults   int
		ResultsPerPage int
	}
}

type PlaylistItem struct {
	ContentDetails struct {
		VideoId          string
		VideoPublishedAt string
	}
	Status struct {
		PrivacyStatus string
	}
}

// IsPublic reports whether the entry can be fetched with an API key.
func (p *PlaylistItem) IsPublic() bool {
	return p.Status.PrivacyStatus == "" || p.Status.PrivacyStatus == "public"
}

// PlaylistItems fetches one page of a playlist, token is empty for the first page. Uses 1 quota.
func (c *Client) PlaylistItems(ctx context.Context, playlistId, token string, pageSize int) (*ResPlaylistItems, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	params := url.Values{
		"part":       {"contentDetails,status"},
		"playlistId": {playlistId},
		"maxResults": {fmt.Sprint(pageSize)},
	}
	if token != "" {
		params.Set("pageToken", token)
	}

	result := ResPlaylistItems{}
	if err := c.get(ctx, pathPlaylistItems, params, &result); err != nil {
		return nil, fmt.Errorf("retrieving playlist %q page %q: %w", playlistId, token, err)
	}

	return &result, nil
}

type ResVideos struct {
	Items []ResVideo
	// There is more but not needed.
}

type ResVideo struct {
	Id      string
	Snippet struct {
		PublishedAt          string
		ChannelId            string
		Title                string
		Description          string
		Thumbnails           map[string]Thumbnail
		LiveBroadcastContent string
		// There is more but not needed.
	}
	ContentDetails struct {
		Duration string
		Caption  string
	}
	Statistics struct {
		ViewCount    int64 `json:"viewCount,string"`
		LikeCount    int64 `json:"likeCount,string"`
		CommentCount int64 `json:"commentCount,string"`
	}
}

func (r *ResVideo) IsBroadcast() bool {
	return r.Snippet.LiveBroadcastContent != "" && r.Snippet.LiveBroadcastContent != "none"
}

// Video fetches a single video's metadata. Uses 1 quota.
func (c *Client) Video(ctx context.Context, id string) (*ResVideo, error) {
	params := url.Values{
		"part": {"snippet,contentDetails,statistics"},
		"id":   {id},
	}

	result := ResVideos{}
	if err := c.get(ctx, pathVideos, params, &result); err != nil {
		return nil, fmt.Errorf("retrieving video %q: %w", id, err)
	}

	if len(result.Items) == 0 {
		return nil, fmt.Errorf("video %q: %w", id, ErrNotFound)
	}

	return &result.Items[0], nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.Key)

	base := c.BaseURL
	if base == "" {
		base = EndpointBase
	}

	body, status, err := c.fetch(ctx, base+path+"?"+params.Encode())
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return newStatusError(status, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshalling response: %w", err)
	}

	return nil
}

// fetch does a rate limited GET and reads the whole body.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, redact(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	return body, res.StatusCode, nil
}

// redact strips the query string, and with it the API key, from url errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
			urlErr.URL = urlErr.URL[:i]
		}
	}
	return err
}

var thumbResses = []string{"maxres", "high", "medium", "standard", "default"}

func HighestResThumbnail(thumbs map[string]Thumbnail) Thumbnail {
	for _, res := range thumbResses {
		if thumb, ok := thumbs[res]; ok {
			return thumb
		}
	}

	return Thumbnail{}
}

func ParsePublishedTime(value string) (time.Time, error) {
	published, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse published time %q: %w", value, err)
	}

	return published.UTC(), nil
}
