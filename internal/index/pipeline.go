// Package index harvests channels: it resolves handles, walks their uploads,
// stores the metadata and transcript of every video and finally rewrites the
// exports.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/export"
	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/store"
)

// Store is where harvested records go, see store.Store.
type Store interface {
	UpsertChannel(ctx context.Context, ch store.Channel) error
	UpsertVideo(ctx context.Context, v store.Video) error
	UpsertTranscript(ctx context.Context, t store.Transcript) error
	HasTranscript(ctx context.Context, videoID string) (bool, error)
	RecordFailure(ctx context.Context, f store.Failure) error
	ClearFailures(ctx context.Context, subject string) error
}

type Exporter interface {
	Materialize(ctx context.Context) (export.Stats, error)
}

type Options struct {
	API      API
	Captions Captioner
	Store    Store
	// Exporter may be nil, channels then finish without exports.
	Exporter Exporter
	Budget   Budget
	Retry    retry.Policy
	PageSize int
	// RefetchTranscripts fetches transcripts that are already stored again.
	RefetchTranscripts bool
	Log                logrus.FieldLogger
	// RunID tags persisted failures, a random one is used when empty.
	RunID string
}

type Pipeline struct {
	store    Store
	exporter Exporter
	budget   Budget
	refetch  bool
	log      logrus.FieldLogger
	runID    string

	resolver *Resolver
	walker   *Walker
	fetcher  *Fetcher
}

func New(opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Retry.Log == nil {
		opts.Retry.Log = opts.Log
	}

	return &Pipeline{
		store:    opts.Store,
		exporter: opts.Exporter,
		budget:   opts.Budget,
		refetch:  opts.RefetchTranscripts,
		log:      opts.Log.WithField("run", opts.RunID),
		runID:    opts.RunID,
		resolver: NewResolver(opts.API, opts.Budget, opts.Retry),
		walker:   NewWalker(opts.API, opts.Budget, opts.Retry, opts.PageSize),
		fetcher:  NewFetcher(opts.API, opts.Captions, opts.Budget, opts.Retry, opts.Log),
	}
}

// Run harvests the channels one after another.
//
// Failures of a single handle, page or video are recorded and the run carries
// on. Running out of quota skips everything that is left. The exports are
// rewritten at the end even when ctx is canceled, so they always mirror the store.
func (p *Pipeline) Run(ctx context.Context, handles []string) *Report {
	rep := &Report{RunID: p.runID, StartedAt: time.Now()}
	for _, h := range handles {
		rep.Channels = append(rep.Channels, &ChannelReport{Handle: h, State: StatePending})
	}

	var stop error
	for _, ch := range rep.Channels {
		if stop != nil {
			p.skipChannel(ctx, ch, stop)
			continue
		}
		stop = p.channel(ctx, ch)
	}
	rep.QuotaExhausted = errors.Is(stop, ErrQuotaExhausted)

	p.persist(context.WithoutCancel(ctx), rep)

	if b, ok := p.budget.(interface {
		Used() int64
		Limit() int64
	}); ok {
		rep.QuotaUsed, rep.QuotaLimit = b.Used(), b.Limit()
	}
	rep.FinishedAt = time.Now()
	return rep
}

// channel harvests one channel, the returned error stops the run.
func (p *Pipeline) channel(ctx context.Context, rep *ChannelReport) error {
	log := p.log.WithField("handle", rep.Handle)
	rep.State = StateResolving

	handle, err := NormalizeHandle(rep.Handle)
	rep.Handle = handle
	if err != nil {
		p.failChannel(ctx, rep, store.FailureChannelNotFound, "", err)
		return nil
	}

	ch, err := p.resolver.Resolve(ctx, handle)
	if err != nil {
		if stopsRun(ctx, err) {
			p.skipChannel(ctx, rep, err)
			return err
		}
		kind := store.FailureChannelResolve
		if errors.Is(err, ErrChannelNotFound) {
			kind = store.FailureChannelNotFound
		}
		p.failChannel(ctx, rep, kind, "", err)
		return nil
	}
	rep.ChannelID = ch.ID
	log = log.WithField("channel", ch.ID)

	if err := p.store.UpsertChannel(ctx, *ch); err != nil {
		p.failChannel(ctx, rep, store.FailurePersist, ch.ID, &PersistError{Entity: "channel", ID: ch.ID, Err: err})
		return nil
	}
	p.clear(ctx, handle)
	log.Info("resolved")

	rep.State = StatePaginating
	err = p.walker.Each(ctx, ch.UploadsPlaylistID, func(page Page) error {
		rep.Pages = page.Number
		rep.Discovered += len(page.VideoIDs)
		rep.State = StateFetchingItems
		log.WithFields(logrus.Fields{"page": page.Number, "videos": len(page.VideoIDs)}).Info("fetching page")

		for i, id := range page.VideoIDs {
			if err := p.item(ctx, ch, id, rep); err != nil {
				if errors.Is(err, ErrQuotaExhausted) {
					for _, skipped := range page.VideoIDs[i+1:] {
						p.itemFailure(ctx, rep, store.FailureQuota, skipped, err)
					}
				}
				return err
			}
		}

		rep.State = StatePaginating
		return nil
	})

	var pageErr *PageFetchError
	switch {
	case err == nil:
		p.clear(ctx, ch.UploadsPlaylistID)
	case errors.As(err, &pageErr):
		rep.TruncatedAt = pageErr.Page
		p.itemFailure(ctx, rep, store.FailurePage, ch.UploadsPlaylistID, err)
	default:
		if errors.Is(err, ErrQuotaExhausted) {
			rep.fail("quota exhausted")
		} else {
			rep.fail(err.Error())
		}
		log.WithError(err).Warn("stopped")
		return err
	}

	rep.State = StatePersisting
	log.WithFields(logrus.Fields{
		"videos":      rep.VideosPersisted,
		"transcripts": rep.TranscriptsPersisted,
		"failures":    len(rep.Failures),
	}).Info("harvested")
	return nil
}

// item stores the metadata and then the transcript of a video.
// Only errors that stop the run are returned.
func (p *Pipeline) item(ctx context.Context, ch *store.Channel, id string, rep *ChannelReport) error {
	video, err := p.fetcher.Metadata(ctx, ch.ID, id)
	if err != nil {
		if stopsRun(ctx, err) {
			if errors.Is(err, ErrQuotaExhausted) {
				p.itemFailure(ctx, rep, store.FailureQuota, id, err)
			}
			return err
		}
		p.itemFailure(ctx, rep, store.FailureItemNotFound, id, err)
		return nil
	}

	if err := p.store.UpsertVideo(ctx, *video); err != nil {
		p.itemFailure(ctx, rep, store.FailurePersist, id, &PersistError{Entity: "video", ID: id, Err: err})
		return nil
	}
	rep.VideosPersisted++

	if !p.refetch {
		has, err := p.store.HasTranscript(ctx, id)
		if err != nil {
			p.log.WithField("video", id).WithError(err).Warn("checking stored transcript")
		}
		if has {
			rep.TranscriptsKept++
			p.clear(ctx, id)
			return nil
		}
	}

	t, outcome, err := p.fetcher.Transcript(ctx, video)
	if err != nil {
		if stopsRun(ctx, err) {
			if errors.Is(err, ErrQuotaExhausted) {
				p.itemFailure(ctx, rep, store.FailureQuota, id, err)
			}
			return err
		}
		p.itemFailure(ctx, rep, store.FailureTranscript, id, err)
		return nil
	}

	if outcome == TranscriptUnavailable {
		rep.TranscriptsAbsent++
		p.clear(ctx, id)
		return nil
	}

	if err := p.store.UpsertTranscript(ctx, *t); err != nil {
		p.itemFailure(ctx, rep, store.FailurePersist, id, &PersistError{Entity: "transcript", ID: id, Err: err})
		return nil
	}
	rep.TranscriptsPersisted++
	p.clear(ctx, id)
	return nil
}

// persist materializes the exports and settles every channel waiting on them.
func (p *Pipeline) persist(ctx context.Context, rep *Report) {
	if p.exporter != nil {
		rep.Export, rep.ExportErr = p.exporter.Materialize(ctx)
		if rep.ExportErr != nil {
			p.log.WithError(rep.ExportErr).Error("materializing exports")
		}
	}

	for _, ch := range rep.Channels {
		if ch.State != StatePersisting {
			continue
		}
		if rep.ExportErr != nil {
			ch.fail("exporting: " + rep.ExportErr.Error())
			continue
		}
		ch.State = StateDone
	}
}

func (p *Pipeline) skipChannel(ctx context.Context, rep *ChannelReport, cause error) {
	if errors.Is(cause, ErrQuotaExhausted) {
		p.failChannel(ctx, rep, store.FailureQuota, "", cause)
		rep.Reason = "quota exhausted"
		return
	}
	rep.fail(cause.Error())
}

func (p *Pipeline) failChannel(ctx context.Context, rep *ChannelReport, kind store.FailureKind, channelID string, err error) {
	rep.fail(err.Error())
	p.record(ctx, rep, kind, rep.Handle, channelID, err)
}

func (p *Pipeline) itemFailure(ctx context.Context, rep *ChannelReport, kind store.FailureKind, subject string, err error) {
	p.record(ctx, rep, kind, subject, rep.ChannelID, err)
}

// record adds the failure to the report and the failures table.
func (p *Pipeline) record(ctx context.Context, rep *ChannelReport, kind store.FailureKind, subject, channelID string, err error) {
	rep.Failures = append(rep.Failures, ItemFailure{Kind: kind, Subject: subject, Reason: err.Error()})

	log := p.log.WithFields(logrus.Fields{
		"handle":  rep.Handle,
		"kind":    kind,
		"subject": subject,
	}).WithError(err)
	if kind == store.FailureQuota {
		log.Warn("skipped")
	} else {
		log.Error("failed")
	}

	if err := p.store.RecordFailure(context.WithoutCancel(ctx), store.Failure{
		Kind:      kind,
		Subject:   subject,
		ChannelID: channelID,
		Reason:    err.Error(),
		RunID:     p.runID,
	}); err != nil {
		p.log.WithError(err).Error("recording failure")
	}
}

// clear forgets earlier failures of a subject that has now succeeded.
func (p *Pipeline) clear(ctx context.Context, subject string) {
	if err := p.store.ClearFailures(ctx, subject); err != nil {
		p.log.WithField("subject", subject).WithError(err).Warn("clearing failures")
	}
}
