package index_test

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/export"
	"github.com/laytan/tubescriber/internal/index"
	"github.com/laytan/tubescriber/internal/quota"
	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/store"
	"github.com/laytan/tubescriber/internal/tube"
)

var (
	now     = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	errBusy = &tube.StatusError{Code: 503, Message: "backend error"}
)

// fakeAPI serves channels, playlist pages, videos and captions from memory.
// Failures are injected per call key, e.g. "video:v2" or "page:UU1:3".
type fakeAPI struct {
	mu       sync.Mutex
	channels map[string]*tube.ChannelInfo
	pages    map[string][][]tube.PlaylistItem
	videos   map[string]*tube.ResVideo
	captions map[string]*tube.Transcript

	// queued errors are returned once each before the call succeeds.
	queued map[string][]error
	always map[string]error
	calls  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels: map[string]*tube.ChannelInfo{},
		pages:    map[string][][]tube.PlaylistItem{},
		videos:   map[string]*tube.ResVideo{},
		captions: map[string]*tube.Transcript{},
		queued:   map[string][]error{},
		always:   map[string]error{},
	}
}

func (f *fakeAPI) hit(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, key)
	if err, ok := f.always[key]; ok {
		return err
	}
	if q := f.queued[key]; len(q) > 0 {
		f.queued[key] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeAPI) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) ChannelByHandle(_ context.Context, handle string) (*tube.ChannelInfo, error) {
	if err := f.hit("channel:" + handle); err != nil {
		return nil, err
	}
	info, ok := f.channels[handle]
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", handle, tube.ErrNotFound)
	}
	return info, nil
}

func (f *fakeAPI) PlaylistItems(_ context.Context, playlistId, token string, _ int) (*tube.ResPlaylistItems, error) {
	number := 1
	if token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "page-"))
		if err != nil {
			return nil, &tube.StatusError{Code: 400, Reason: "invalidPageToken"}
		}
		number = n
	}

	if err := f.hit(fmt.Sprintf("page:%s:%d", playlistId, number)); err != nil {
		return nil, err
	}

	pages, ok := f.pages[playlistId]
	if !ok {
		return nil, &tube.StatusError{Code: 404, Reason: "playlistNotFound"}
	}

	res := &tube.ResPlaylistItems{Items: pages[number-1]}
	if number < len(pages) {
		res.NextPageToken = fmt.Sprintf("page-%d", number+1)
	}
	return res, nil
}

func (f *fakeAPI) Video(_ context.Context, id string) (*tube.ResVideo, error) {
	if err := f.hit("video:" + id); err != nil {
		return nil, err
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %q: %w", id, tube.ErrNotFound)
	}
	return v, nil
}

func (f *fakeAPI) Captions(_ context.Context, id string) (*tube.Transcript, error) {
	if err := f.hit("captions:" + id); err != nil {
		return nil, err
	}
	t, ok := f.captions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, tube.ErrNoCaptions)
	}
	return t, nil
}

func playlistItem(id, privacy string) tube.PlaylistItem {
	var item tube.PlaylistItem
	item.ContentDetails.VideoId = id
	item.Status.PrivacyStatus = privacy
	return item
}

// addChannel registers a channel whose uploads are split into the given pages.
// Every video gets metadata and a two line manual transcript.
func (f *fakeAPI) addChannel(handle, id string, pages ...[]string) string {
	uploads := "UU" + strings.TrimPrefix(id, "UC")

	info := &tube.ChannelInfo{Id: id}
	info.Snippet.Title = "Channel " + handle
	info.Snippet.Description = "videos about " + handle
	info.Snippet.Thumbnails = map[string]tube.Thumbnail{"high": {Url: "https://img/" + id}}
	info.ContentDetails.RelatedPlaylists.Uploads = uploads
	info.Statistics.SubscriberCount = 1000
	f.channels[handle] = info

	var items [][]tube.PlaylistItem
	n := 0
	for _, page := range pages {
		var pageItems []tube.PlaylistItem
		for _, vid := range page {
			pageItems = append(pageItems, playlistItem(vid, "public"))
			f.addVideo(id, vid, now.Add(-time.Duration(n)*time.Hour))
			n++
		}
		items = append(items, pageItems)
	}
	f.pages[uploads] = items

	return uploads
}

func (f *fakeAPI) addVideo(channelID, id string, published time.Time) {
	v := &tube.ResVideo{Id: id}
	v.Snippet.ChannelId = channelID
	v.Snippet.Title = "Video " + id
	v.Snippet.Description = "about " + id
	v.Snippet.PublishedAt = published.Format(time.RFC3339)
	v.ContentDetails.Duration = "PT1M30S"
	v.Statistics.ViewCount = 100
	v.Statistics.LikeCount = 5
	v.Statistics.CommentCount = 5
	f.videos[id] = v

	f.captions[id] = &tube.Transcript{
		Language: "en",
		Type:     tube.TypeManual,
		Entries: []tube.Entry{
			{Text: "hello from " + id, Start: 0, Dur: 1.5},
			{Text: "gophers are running", Start: 1.5, Dur: 2},
		},
	}
}

type harness struct {
	api     *fakeAPI
	store   *store.Store
	tracker *quota.Tracker
	dir     string
	log     *logrus.Logger
}

func newHarness(t *testing.T, limit int64) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.Now = func() time.Time { return now }

	tracker, err := quota.New(context.Background(), quota.Config{
		DailyLimit: limit,
		Log:        log,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	return &harness{
		api:     newFakeAPI(),
		store:   s,
		tracker: tracker,
		dir:     t.TempDir(),
		log:     log,
	}
}

func (h *harness) options() index.Options {
	return index.Options{
		API:      h.api,
		Captions: h.api,
		Store:    h.store,
		Exporter: &export.Exporter{Dir: h.dir, Src: h.store, Log: h.log},
		Budget:   h.tracker,
		Retry:    retry.Policy{Attempts: 3},
		PageSize: 50,
		Log:      h.log,
		RunID:    "run-1",
	}
}

func (h *harness) run(t *testing.T, handles ...string) *index.Report {
	t.Helper()
	return index.New(h.options()).Run(context.Background(), handles)
}

type dump struct {
	Channels    []store.Channel
	Videos      []store.Video
	Transcripts []store.Transcript
	Files       map[string]string
}

// snapshot reads back everything a run leaves behind.
func (h *harness) snapshot(t *testing.T) dump {
	t.Helper()
	ctx := context.Background()

	var (
		d   dump
		err error
	)
	d.Channels, err = h.store.Channels(ctx)
	require.NoError(t, err)
	d.Videos, err = h.store.Videos(ctx)
	require.NoError(t, err)
	d.Transcripts, err = h.store.Transcripts(ctx)
	require.NoError(t, err)

	d.Files = map[string]string{}
	err = filepath.WalkDir(h.dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(h.dir, path)
		d.Files[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)

	return d
}
