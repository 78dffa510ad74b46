// Package failures turns the outstanding failures of earlier runs back into work.
package failures

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/store"
)

type Source interface {
	Failures(ctx context.Context) ([]store.Failure, error)
	Channels(ctx context.Context) ([]store.Channel, error)
}

// Handles returns the channels that have outstanding failures, to be harvested
// again. Already stored transcripts are not fetched again, so a second harvest
// only spends quota on what was missed.
func Handles(ctx context.Context, src Source, log logrus.FieldLogger) ([]string, error) {
	failures, err := src.Failures(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	if len(failures) == 0 {
		return nil, nil
	}

	channels, err := src.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	handleOf := make(map[string]string, len(channels))
	for _, ch := range channels {
		handleOf[ch.ID] = ch.Handle
	}

	seen := map[string]bool{}
	var handles []string
	add := func(h string) {
		if !seen[strings.ToLower(h)] {
			seen[strings.ToLower(h)] = true
			handles = append(handles, h)
		}
	}

	for _, f := range failures {
		switch {
		case f.Kind == store.FailureChannelNotFound:
			// Retrying a handle that does not exist only burns quota.
			log.WithField("handle", f.Subject).Debug("not retrying unknown channel")
		case strings.HasPrefix(f.Subject, "@"):
			add(f.Subject)
		case handleOf[f.ChannelID] != "":
			add(handleOf[f.ChannelID])
		default:
			log.WithFields(logrus.Fields{
				"kind":    f.Kind,
				"subject": f.Subject,
			}).Warn("failure without a known channel")
		}
	}

	sort.Strings(handles)
	return handles, nil
}
