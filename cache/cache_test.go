package cache

import (
	"testing"
	"time"

	"github.com/hupe1980/idtrack/model"
	"github.com/stretchr/testify/require"
)

func TestCache_EmptyIsInvalid(t *testing.T) {
	c := New()

	require.False(t, c.Valid())

	_, ok := c.Get(false)
	require.False(t, ok)
}

func TestCache_RefreshAndGet(t *testing.T) {
	c := New()

	snapshot := model.Snapshot{1: {make(model.Vector, model.DefaultDimension)}}
	c.Refresh(snapshot)

	require.True(t, c.Valid())

	got, ok := c.Get(false)
	require.True(t, ok)
	require.Len(t, got, 1)
}

func TestCache_ForceRefreshMisses(t *testing.T) {
	c := New()
	c.Refresh(model.Snapshot{})

	_, ok := c.Get(true)
	require.False(t, ok)

	// Non-forced reads still hit.
	_, ok = c.Get(false)
	require.True(t, ok)
}

func TestCache_ExpiresAfterLifetime(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(
		WithLifetime(60*time.Second),
		WithClock(func() time.Time { return now }),
	)

	c.Refresh(model.Snapshot{})
	require.True(t, c.Valid())

	// Exactly at the lifetime boundary the snapshot is still served.
	now = now.Add(60 * time.Second)
	require.True(t, c.Valid())

	// One tick past the lifetime it expires.
	now = now.Add(time.Nanosecond)
	require.False(t, c.Valid())

	_, ok := c.Get(false)
	require.False(t, ok)

	// A refresh restores validity from the new capture time.
	c.Refresh(model.Snapshot{})
	require.True(t, c.Valid())
}

func TestCache_Invalidate(t *testing.T) {
	c := New()
	c.Refresh(model.Snapshot{})

	c.Invalidate()
	require.False(t, c.Valid())
}
