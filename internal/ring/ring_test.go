package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPushThenGetRangeRoundTrips(t *testing.T) {
	b := New(1000)

	frame := make([]int16, 320)
	for i := range frame {
		frame[i] = int16(i)
	}

	start := b.Push(frame)
	assert.Equal(t, uint64(0), start)

	out, ok := b.GetRange(0, 320)
	require.True(t, ok)
	assert.Equal(t, frame, out)
}

func TestGetRangeBeyondWrittenIsUnavailable(t *testing.T) {
	b := New(1000)
	b.Push(make([]int16, 320))

	_, ok := b.GetRange(0, 1000)
	assert.False(t, ok, "range extending past the current write position must be unavailable")
}

func TestGetRangeScrolledOutIsUnavailable(t *testing.T) {
	b := New(640) // capacity for exactly two 320-sample frames

	first := make([]int16, 320)
	for i := range first {
		first[i] = 1
	}
	b.Push(first)

	// Push enough additional frames to scroll the first one out.
	for i := 0; i < 3; i++ {
		b.Push(make([]int16, 320))
	}

	_, ok := b.GetRange(0, 320)
	assert.False(t, ok, "range overwritten by wraparound must be reported unavailable")
}

func TestWraparoundPreservesRecentSamples(t *testing.T) {
	b := New(640)

	first := make([]int16, 320)
	for i := range first {
		first[i] = int16(i)
	}
	b.Push(first)

	second := make([]int16, 320)
	for i := range second {
		second[i] = int16(1000 + i)
	}
	b.Push(second)

	out, ok := b.GetRange(320, 640)
	require.True(t, ok)
	assert.Equal(t, second, out)
}

func TestRapidPushGetRangeNeverGarbled(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(320, 3200).Draw(t, "capacity")
		b := New(capacity)

		var written []int16
		var globalStart uint64

		frameCount := rapid.IntRange(1, 20).Draw(t, "frames")
		for i := 0; i < frameCount; i++ {
			frame := rapid.SliceOfN(rapid.Int16(), 320, 320).Draw(t, "frame")
			idx := b.Push(frame)
			if i == 0 {
				globalStart = idx
			}
			written = append(written, frame...)
		}

		end := globalStart + uint64(len(written))
		available := b.CurrentGlobalIndex() - min(b.CurrentGlobalIndex(), b.Capacity())

		if globalStart >= available {
			out, ok := b.GetRange(globalStart, end)
			require.True(t, ok)
			assert.Equal(t, written, out, "samples returned for a still-available range must match what was written")
		}
	})
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
