package failures

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laytan/tubescriber/internal/store"
)

type fakeSource struct {
	failures []store.Failure
	channels []store.Channel
	err      error
}

func (f *fakeSource) Failures(context.Context) ([]store.Failure, error) {
	return f.failures, f.err
}

func (f *fakeSource) Channels(context.Context) ([]store.Channel, error) {
	return f.channels, nil
}

func quiet() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestHandles(t *testing.T) {
	src := &fakeSource{
		failures: []store.Failure{
			{Kind: store.FailureQuota, Subject: "@zeta"},
			{Kind: store.FailureItemNotFound, Subject: "v1", ChannelID: "UC1"},
			{Kind: store.FailureTranscript, Subject: "v2", ChannelID: "UC1"},
			{Kind: store.FailurePage, Subject: "UU2", ChannelID: "UC2"},
			{Kind: store.FailureChannelNotFound, Subject: "@missing"},
			{Kind: store.FailureChannelResolve, Subject: "@flaky"},
			{Kind: store.FailurePersist, Subject: "v9", ChannelID: "UC9"},
		},
		channels: []store.Channel{
			{ID: "UC1", Handle: "@gophers"},
			{ID: "UC2", Handle: "@alpha"},
		},
	}

	handles, err := Handles(context.Background(), src, quiet())
	require.NoError(t, err)
	assert.Equal(t, []string{"@alpha", "@flaky", "@gophers", "@zeta"}, handles)
}

func TestHandlesNone(t *testing.T) {
	handles, err := Handles(context.Background(), &fakeSource{}, quiet())
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestHandlesError(t *testing.T) {
	_, err := Handles(context.Background(), &fakeSource{err: errors.New("boom")}, quiet())
	assert.ErrorContains(t, err, "boom")
}
