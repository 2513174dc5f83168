package testfixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	require.True(t, clock.Now().Equal(ReferenceTime()))
}

func TestClockAdvanceAndCurrent(t *testing.T) {
	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	require.Equal(t, start.Add(90*time.Minute), updated)
	require.Equal(t, updated, clock.Current())
}

func TestClockTickAdvancesOnEveryRead(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	nowFn := NewClock(start).Tick(time.Second).NowFunc()

	require.Equal(t, start, nowFn())
	require.Equal(t, start.Add(time.Second), nowFn())
	require.Equal(t, start.Add(2*time.Second), nowFn())
}
