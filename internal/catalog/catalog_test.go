package catalog

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	store, err := Open(&conf.CatalogSettings{
		Enabled: true,
		Type:    "sqlite",
		Path:    filepath.Join(t.TempDir(), "db", "catalog.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sessionEvent(kind events.Kind, id string, started time.Time) events.SessionEvent {
	return events.SessionEvent{
		EventKind:       kind,
		MeasurementID:   id,
		DeviceIDs:       []string{"UB-2015.05.16"},
		Labels:          []string{"EEG 001", "EEG 002"},
		Channels:        2,
		SampleRate:      1200,
		SamplesPerBlock: 100,
		StartedAt:       started,
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(&conf.CatalogSettings{Type: "postgres"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	c := NewConsumer(store)
	assert.Equal(t, "catalog", c.Name())

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.ProcessEvent(sessionEvent(events.KindSessionStarted, "m-1", started)))

	stop := sessionEvent(events.KindSessionStopped, "m-1", started)
	stop.StoppedAt = started.Add(time.Minute)
	stop.BlocksConsumed = 720
	require.NoError(t, c.ProcessEvent(stop))

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	assert.Equal(t, "m-1", got.MeasurementID)
	assert.Equal(t, []string{"UB-2015.05.16"}, SplitList(got.DeviceIDs))
	assert.Equal(t, []string{"EEG 001", "EEG 002"}, SplitList(got.Labels))
	assert.Equal(t, 1200, got.SampleRate)
	assert.Equal(t, uint64(720), got.BlocksConsumed)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(started.Add(time.Minute)))
}

func TestStopWithoutStartInsertsSession(t *testing.T) {
	store := openTestStore(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	stop := sessionEvent(events.KindSessionStopped, "m-2", started)
	stop.StoppedAt = started.Add(time.Second)
	require.NoError(t, store.SessionStopped(context.Background(), stop))

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].StoppedAt)
}

func TestDuplicateSessionFails(t *testing.T) {
	store := openTestStore(t)
	ev := sessionEvent(events.KindSessionStarted, "m-3", time.Now())
	require.NoError(t, store.SessionStarted(context.Background(), ev))

	err := store.SessionStarted(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestSegments(t *testing.T) {
	store := openTestStore(t)
	c := NewConsumer(store)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for n := range 3 {
		next := ""
		if n < 2 {
			next = "next"
		}
		require.NoError(t, c.ProcessEvent(events.SegmentEvent{
			MeasurementID: "m-4",
			Path:          filepath.Join("rec", "seg"),
			Number:        n,
			Samples:       1200,
			Duration:      time.Second,
			Next:          next,
			OpenedAt:      base.Add(time.Duration(n) * time.Second),
			ClosedAt:      base.Add(time.Duration(n+1) * time.Second),
		}))
	}
	// Failure events are not cataloged
	require.NoError(t, c.ProcessEvent(events.FailureEvent{EventKind: events.KindDeviceFailure, At: base}))

	recent, err := store.RecentSegments(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].Number)
	assert.Equal(t, 1, recent[1].Number)
	assert.Equal(t, int64(1000), recent[0].DurationMs)

	chain, err := store.SessionSegments(context.Background(), "m-4")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, seg := range chain {
		assert.Equal(t, i, seg.Number)
	}
	assert.Empty(t, chain[2].Next)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a"}, SplitList("a"))
	assert.Equal(t, []string{"a", "b"}, SplitList(joinList([]string{"a", "b"})))
}
