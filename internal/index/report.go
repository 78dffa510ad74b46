package index

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/laytan/tubescriber/internal/export"
	"github.com/laytan/tubescriber/internal/store"
)

// State is where a channel is in its run.
//
//	Resolving -> Paginating <-> FetchingItems -> Persisting -> Done
//
// Any state may move to Failed.
type State string

const (
	StatePending       State = "pending"
	StateResolving     State = "resolving"
	StatePaginating    State = "paginating"
	StateFetchingItems State = "fetching_items"
	StatePersisting    State = "persisting"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

type ItemFailure struct {
	Kind    store.FailureKind
	Subject string
	Reason  string
}

type ChannelReport struct {
	Handle    string
	ChannelID string
	State     State
	// Reason is set when State is StateFailed.
	Reason string

	Pages      int
	Discovered int
	// TruncatedAt is the page the walk stopped at, 0 when every page was fetched.
	TruncatedAt int

	VideosPersisted      int
	TranscriptsPersisted int
	TranscriptsAbsent    int
	// TranscriptsKept were already stored and not fetched again.
	TranscriptsKept int

	Failures []ItemFailure
}

func (c *ChannelReport) OK() bool {
	return c.State == StateDone && len(c.Failures) == 0
}

func (c *ChannelReport) fail(reason string) {
	c.State = StateFailed
	c.Reason = reason
}

// Report is the outcome of a Pipeline run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Channels   []*ChannelReport

	QuotaExhausted bool
	// QuotaUsed and QuotaLimit are zero when the budget does not expose them.
	QuotaUsed  int64
	QuotaLimit int64

	Export    export.Stats
	ExportErr error
}

// OK reports whether every channel finished without a single failure.
func (r *Report) OK() bool {
	if r.ExportErr != nil {
		return false
	}
	for _, c := range r.Channels {
		if !c.OK() {
			return false
		}
	}
	return true
}

// Skipped counts the work that was not done, for whatever reason.
func (r *Report) Skipped() int {
	n := 0
	for _, c := range r.Channels {
		n += len(c.Failures)
	}
	return n
}

// WriteSummary writes a table of the channels followed by every failure.
func (r *Report) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "HANDLE\tSTATE\tPAGES\tVIDEOS\tTRANSCRIPTS\tNONE\tKEPT\tSKIPPED\tNOTE")
	for _, c := range r.Channels {
		note := c.Reason
		if c.TruncatedAt > 0 {
			note = fmt.Sprintf("stopped at page %d", c.TruncatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			c.Handle, c.State, c.Pages, c.VideosPersisted, c.TranscriptsPersisted,
			c.TranscriptsAbsent, c.TranscriptsKept, len(c.Failures), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Skipped() > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLE\tKIND\tSUBJECT\tREASON")
		for _, c := range r.Channels {
			for _, f := range c.Failures {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Handle, f.Kind, f.Subject, f.Reason)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	if r.QuotaLimit > 0 {
		fmt.Fprintf(w, "quota: %d/%d units used", r.QuotaUsed, r.QuotaLimit)
		if r.QuotaExhausted {
			fmt.Fprint(w, " (exhausted)")
		}
		fmt.Fprintln(w)
	}
	if r.ExportErr != nil {
		_, err := fmt.Fprintf(w, "exports: failed: %v\n", r.ExportErr)
		return err
	}
	_, err := fmt.Fprintf(w, "exports: %d channels, %d videos, %d transcripts, %d stale files removed\n",
		r.Export.Channels, r.Export.Videos, r.Export.Transcripts, r.Export.Pruned)
	return err
}
