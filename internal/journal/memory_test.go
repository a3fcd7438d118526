package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	m := NewMemory()
	require.NoError(t, m.LogEvent(ctx, Event{Time: base, Type: "open", Description: "position_opened", Data: map[string]any{"asset": "BTC-USDT"}}))
	require.NoError(t, m.LogEvent(ctx, Event{Time: base.Add(2 * time.Hour), Type: "close", Description: "position_closed"}))
	require.NoError(t, m.LogEvent(ctx, Event{Time: base.Add(time.Hour), Type: "open", Description: "position_opened"}))

	t.Run("Filters by type and window", func(t *testing.T) {
		events, err := m.GetEvents(ctx, "open", base, base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].Time.Before(events[1].Time))
	})

	t.Run("Window bounds are inclusive", func(t *testing.T) {
		events, err := m.GetEvents(ctx, "close", base.Add(2*time.Hour), base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("No matches yields empty", func(t *testing.T) {
		events, err := m.GetEvents(ctx, "error", base, base.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
