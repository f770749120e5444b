package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

func TestStoreTargetLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	created := time.Unix(1700000000, 0).UTC()

	first := monitor.Target{ID: "a", URL: "https://a.test", Type: monitor.TargetWebsite, Active: true, CreatedAt: created}
	second := monitor.Target{ID: "b", URL: "https://b.test", Type: monitor.TargetProfile, Active: true, CreatedAt: created.Add(time.Minute)}
	require.NoError(t, store.CreateTarget(ctx, second))
	require.NoError(t, store.CreateTarget(ctx, first))
	require.Error(t, store.CreateTarget(ctx, first))

	all, err := store.ListTargets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, []string{all[0].ID, all[1].ID})

	require.NoError(t, store.DeactivateTarget(ctx, "a"))
	active, err := store.ListActiveTargets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "b", active[0].ID)

	_, err = store.GetTarget(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.ErrorIs(t, store.DeactivateTarget(ctx, "missing"), monitor.ErrNotFound)
}

func TestStoreRecordFetchLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateTarget(ctx, monitor.Target{ID: "a", Active: true}))

	snapshot := []byte(`{"text":"one"}`)
	at := time.Unix(1700000000, 0)
	require.NoError(t, store.RecordFetch(ctx, "a", snapshot, at))
	require.NoError(t, store.RecordFetch(ctx, "a", []byte(`{"text":"two"}`), at.Add(time.Hour)))
	snapshot[0] = 'X'

	got, err := store.GetTarget(ctx, "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"two"}`, string(got.LastSnapshot))
	require.Equal(t, at.Add(time.Hour).UTC(), *got.LastChecked)

	got.LastSnapshot[0] = 'Y'
	again, err := store.GetTarget(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, byte('{'), again.LastSnapshot[0])

	require.ErrorIs(t, store.RecordFetch(ctx, "missing", nil, at), monitor.ErrNotFound)
}

func TestStoreChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateTarget(ctx, monitor.Target{ID: "a"}))

	require.ErrorIs(t, store.CreateChange(ctx, monitor.ChangeRecord{ID: "c0", TargetID: "missing"}), monitor.ErrNotFound)
	require.NoError(t, store.CreateChange(ctx, monitor.ChangeRecord{ID: "c1", TargetID: "a", Severity: monitor.SeverityHigh}))
	require.NoError(t, store.CreateChange(ctx, monitor.ChangeRecord{ID: "c2", TargetID: "a", Severity: monitor.SeverityMedium}))
	require.NoError(t, store.MarkNotified(ctx, "c1", true))
	require.ErrorIs(t, store.MarkNotified(ctx, "nope", true), monitor.ErrNotFound)

	changes, err := store.ListChanges(ctx, "a")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "c2", changes[0].ID)
	require.True(t, changes[1].Notified)

	none, err := store.ListChanges(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStoreRuns(t *testing.T) {
	t.Parallel()

	store := NewStore()
	trace := []string{"fetched"}
	require.NoError(t, store.RecordRun(context.Background(), monitor.RunRecord{ID: "r1", Outcome: monitor.OutcomeBaseline, Trace: trace}))
	trace[0] = "mutated"

	runs := store.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, []string{"fetched"}, runs[0].Trace)
}
