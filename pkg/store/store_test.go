package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

func TestUpsertIsIdempotentByTarget(t *testing.T) {
	s := New()

	first, err := s.Upsert(models.Endpoint{Target: "192.168.1.10", Name: "gw"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	// Re-adding the same target merges descriptive fields and keeps identity.
	second, err := s.Upsert(models.Endpoint{Target: "192.168.1.10", Site: "HQ"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "gw", second.Name)
	assert.Equal(t, "HQ", second.Site)
	assert.Equal(t, 1, s.Count())
}

func TestUpsertRejectsConflictingID(t *testing.T) {
	s := New()

	first, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	_, err = s.Upsert(models.Endpoint{ID: "other-id", Target: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrDuplicateTarget)

	_, err = s.Get(first.ID)
	assert.NoError(t, err)
}

func TestReInclusionResetsCounters(t *testing.T) {
	s := New()

	ep, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	counters := models.Counters{HS: models.RunningCounter(3), Mail: models.AlertSentCounter()}

	_, err = s.PatchVolatile(ep.ID, VolatilePatch{Counters: &counters})
	require.NoError(t, err)

	require.NoError(t, s.SetExclusion(ep.ID, true))
	require.NoError(t, s.SetExclusion(ep.ID, false))

	got, err := s.Get(ep.ID)
	require.NoError(t, err)
	assert.True(t, got.Counters.HS.IsZero())
	assert.True(t, got.Counters.Mail.IsZero())
}

func TestObserverCoalescesUpdatesKeepsTransitions(t *testing.T) {
	s := New()

	ep, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	sub := s.Subscribe()
	defer sub.Close()

	// Burst of plain updates for one endpoint plus two transitions. The
	// transitions must both arrive; the updates may merge.
	for i := 0; i < 20; i++ {
		comment := "note"
		require.NoError(t, s.Annotate(ep.ID, nil, nil, &comment))
	}

	s.PublishTransition(models.Transition{EndpointID: ep.ID, Kind: models.TransitionDownConfirmed, Endpoint: ep})
	s.PublishTransition(models.Transition{EndpointID: ep.ID, Kind: models.TransitionUpRecovered, Endpoint: ep})

	var (
		transitions int
		updates     int
	)

	deadline := time.After(2 * time.Second)

	for transitions < 2 {
		select {
		case ev := <-sub.C:
			if ev.Transition != nil {
				transitions++
			} else {
				updates++
			}
		case <-deadline:
			t.Fatalf("timed out: %d transitions, %d updates", transitions, updates)
		}
	}

	assert.Equal(t, 2, transitions)
	assert.LessOrEqual(t, updates, 20)
	assert.GreaterOrEqual(t, updates, 1)
}

func TestPatchVolatilePublishesUpdate(t *testing.T) {
	s := New()

	ep, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	sub := s.Subscribe()
	defer sub.Close()

	// A probe cycle's latency write alone must reach observers, with no
	// operator edit and no transition involved.
	lat := models.LatencyMS(12)

	_, err = s.PatchVolatile(ep.ID, VolatilePatch{Latency: &lat})
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		require.Nil(t, ev.Transition)
		assert.Equal(t, ep.ID, ev.Endpoint.ID)
		assert.InDelta(t, 12.0, ev.Endpoint.Latency.Milliseconds(), 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("no observer event after a volatile patch")
	}
}

func TestDeletePublishesUpdate(t *testing.T) {
	s := New()

	ep, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	sub := s.Subscribe()
	defer sub.Close()

	require.NoError(t, s.Delete(ep.ID))

	select {
	case ev := <-sub.C:
		assert.Equal(t, ep.ID, ev.Endpoint.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after delete")
	}

	assert.Equal(t, 0, s.Count())
}

func TestPersistRoundTripResetsVolatileState(t *testing.T) {
	root := t.TempDir()

	s := New()

	ep, err := s.Upsert(models.Endpoint{Target: "10.0.0.1", Name: "core-sw", Site: "HQ"})
	require.NoError(t, err)

	offline := models.StatusOffline
	temp := 48.5

	_, err = s.PatchVolatile(ep.ID, VolatilePatch{Status: &offline, Temperature: &temp})
	require.NoError(t, err)

	require.NoError(t, s.SaveFile(root))

	restored := New()
	require.NoError(t, restored.LoadFile(root))

	got, err := restored.Get(ep.ID)
	require.NoError(t, err)

	assert.Equal(t, "core-sw", got.Name)
	assert.Equal(t, "HQ", got.Site)
	assert.Equal(t, models.StatusOnline, got.Status)
	assert.Nil(t, got.Temperature)
}

func TestLoadFileMissingIsFirstStart(t *testing.T) {
	s := New()
	assert.NoError(t, s.LoadFile(t.TempDir()))
	assert.Equal(t, 0, s.Count())
}

func TestRunPersisterSavesOnShutdown(t *testing.T) {
	root := t.TempDir()
	s := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		s.RunPersister(ctx, root)
		close(done)
	}()

	_, err := s.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("persister did not stop")
	}

	restored := New()
	require.NoError(t, restored.LoadFile(root))
	assert.Equal(t, 1, restored.Count())
}
