package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/silent-copilot/internal/boundary"
	"github.com/agalue/silent-copilot/internal/ring"
)

func pushFrames(t *testing.T, buf *ring.Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		buf.Push(make([]int16, 320))
	}
}

func TestEmitsAsrClauseSegmentImmediatelyWithoutWaiting(t *testing.T) {
	buf := ring.New(100_000)
	pushFrames(t, buf, 100)
	e := New(buf, 2*time.Second)

	e.Commit(1, boundary.Event{Start: 0, End: 320, Reason: boundary.ReasonAsrClause, Text: "hello there."})

	turn, ok := e.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), turn.ID)
	assert.True(t, turn.HasText)
	assert.Equal(t, "hello there.", turn.Text)
}

func TestSilenceSegmentWaitsForTranscriptThenTimesOut(t *testing.T) {
	buf := ring.New(100_000)
	pushFrames(t, buf, 100)
	e := New(buf, 10*time.Millisecond)

	e.Commit(1, boundary.Event{Start: 0, End: 320, Reason: boundary.ReasonSilence})

	_, ok := e.Pop()
	assert.False(t, ok, "must wait for the asr timeout before emitting without a transcript")

	time.Sleep(15 * time.Millisecond)

	turn, ok := e.Pop()
	require.True(t, ok)
	assert.False(t, turn.HasText)
}

func TestOutOfOrderCommitsEmitInStrictAscendingOrder(t *testing.T) {
	buf := ring.New(100_000)
	pushFrames(t, buf, 100)
	e := New(buf, 2*time.Second)

	// Segment 2 closes (and gets its transcript) before segment 1.
	e.Commit(2, boundary.Event{Start: 320, End: 640, Reason: boundary.ReasonAsrClause, Text: "second."})
	_, ok := e.Pop()
	assert.False(t, ok, "segment 2 must not emit before segment 1 even though it's ready first")

	e.Commit(1, boundary.Event{Start: 0, End: 320, Reason: boundary.ReasonAsrClause, Text: "first."})

	first, ok := e.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.ID)

	second, ok := e.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), second.ID)
}

func TestUnavailableRingRangeSkipsButAdvancesID(t *testing.T) {
	buf := ring.New(640) // small capacity so early ranges scroll out
	e := New(buf, 2*time.Second)

	// Push enough frames to scroll [0, 320) out of the buffer, then commit
	// a segment referencing those samples.
	pushFrames(t, buf, 10)
	e.Commit(1, boundary.Event{Start: 0, End: 320, Reason: boundary.ReasonAsrClause, Text: "gone."})

	pushFrames(t, buf, 1) // advance current_global to 3520 so segment 2's range is available
	e.Commit(2, boundary.Event{Start: 3200, End: 3520, Reason: boundary.ReasonAsrClause, Text: "still here."})

	turn, ok := e.Pop()
	require.True(t, ok, "emission must advance past the unavailable segment to the next one")
	assert.Equal(t, uint64(2), turn.ID)
}
