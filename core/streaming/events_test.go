package streaming

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func TestEventHubFiltersByTrack(t *testing.T) {
	hub := NewEventHub(4)
	one, unsubOne := hub.Subscribe(1)
	all, unsubAll := hub.Subscribe(0)
	defer unsubAll()

	hub.Publish(Event{TrackID: 2, Type: EventTrackArchived})
	hub.Publish(Event{TrackID: 1, Type: EventTrackRestored})

	ev := <-one
	require.Equal(t, EventTrackRestored, ev.Type)
	require.False(t, ev.At.IsZero())
	require.Len(t, all, 2)

	unsubOne()
	unsubOne()
	_, open := <-one
	require.False(t, open)
	require.Equal(t, 1, hub.Subscribers())
}

func TestEventHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewEventHub(1)
	ch, unsub := hub.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{TrackID: 1, Type: EventVariantsSwept})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked")
	}
	require.Len(t, ch, 1)
}

func TestParseVariantPath(t *testing.T) {
	root := filepath.Join("var", "variants")
	id, tier, ok := parseVariantPath(root, filepath.Join(root, "12", "hq.m4a"))
	require.True(t, ok)
	require.Equal(t, int64(12), id)
	require.Equal(t, model.TierHQ, tier)

	for _, name := range []string{
		filepath.Join(root, "12", "hq.m4a.part"),
		filepath.Join(root, "12", "ultra.m4a"),
		filepath.Join(root, "abc", "low.m4a"),
		filepath.Join(root, "12"),
	} {
		_, _, ok := parseVariantPath(root, name)
		require.False(t, ok, name)
	}
}

func TestVariantWatcherReportsRemoval(t *testing.T) {
	layout := newTestLayout(t)
	p := touchVariant(t, layout, 4, model.TierLow, time.Hour)

	c := newRecordingCache()
	hub := NewEventHub(8)
	events, unsub := hub.Subscribe(4)
	defer unsub()

	w, err := NewVariantWatcher(layout, c, hub)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.Remove(p))

	select {
	case ev := <-events:
		require.Equal(t, EventVariantRemoved, ev.Type)
		require.Equal(t, model.TierLow, ev.Tier)
	case <-time.After(3 * time.Second):
		t.Fatal("removal not observed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Contains(t, c.invalidated, int64(4))
}
