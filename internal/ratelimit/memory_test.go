package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore(10, time.Hour)

	require.NoError(t, s.Log(ctx, Event{Name: "a", Key: "k", Timestamp: now.Add(time.Second), Expires: now.Add(time.Minute)}))
	require.NoError(t, s.Log(ctx, Event{Name: "a", Key: "k", Timestamp: now, Expires: now.Add(10 * time.Second)}))
	require.NoError(t, s.Log(ctx, Event{Name: "b", Key: "k", Timestamp: now, Expires: now.Add(time.Minute)}))

	events, err := s.Unexpired(ctx, "a", "k", now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.Equal(now), "events are ordered by timestamp")

	events, err = s.Unexpired(ctx, "a", "k", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	purged, err := s.Purge(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	purged, err = s.Purge(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	events, err = s.Unexpired(ctx, "b", "k", now)
	require.NoError(t, err)
	assert.Empty(t, events)
}
