package turn

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgKeys(t *testing.T, msgs []json.RawMessage) []string {
	t.Helper()
	var keys []string
	for _, m := range msgs {
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(m, &decoded))
		require.Len(t, decoded, 1)
		for k := range decoded {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestFrameBatchFlushesAfterFramesPerTurn(t *testing.T) {
	f := New(nil)

	f.OnEvent(Frame{JPEG: []byte("a"), Hash: 1})
	assert.Equal(t, FrameBatch, f.State())
	assert.Empty(t, f.DrainOutbound(), "batching a frame alone must not emit anything yet")

	f.OnEvent(Frame{JPEG: []byte("b"), Hash: 2})
	assert.Equal(t, Idle, f.State())

	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"activityStart", "video", "video", "activityEnd"}, keys)
}

func TestDuplicateFrameHashIsIgnored(t *testing.T) {
	f := New(nil)
	f.OnEvent(Frame{JPEG: []byte("a"), Hash: 1})
	f.DrainOutbound()

	f.OnEvent(Frame{JPEG: []byte("a-again"), Hash: 1})
	assert.Equal(t, FrameBatch, f.State(), "a repeated hash must not advance the batch")
	assert.Empty(t, f.DrainOutbound())
}

func TestSpeechStartFromIdleOpensAudioTurn(t *testing.T) {
	f := New(nil)
	f.OnEvent(SpeechStart{})
	assert.Equal(t, AudioTurn, f.State())

	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"activityStart"}, keys)
}

func TestAudioChunkStreamsOnlyDuringAudioTurn(t *testing.T) {
	f := New(nil)
	f.OnEvent(AudioChunk{PCM: []byte{1, 2}})
	assert.Empty(t, f.DrainOutbound(), "an audio chunk while idle must be dropped")

	f.OnEvent(SpeechStart{})
	f.DrainOutbound()

	f.OnEvent(AudioChunk{PCM: []byte{1, 2, 3}})
	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"audio"}, keys)
}

func TestSpeechEndForcesFrameCaptureThenCompletesOnFrame(t *testing.T) {
	var captureRequested int
	f := New(func() { captureRequested++ })

	f.OnEvent(SpeechStart{})
	f.DrainOutbound()

	f.OnEvent(SpeechEnd{})
	assert.Equal(t, WaitingForForcedFrame, f.State())
	assert.Equal(t, 1, captureRequested)
	assert.Empty(t, f.DrainOutbound())

	f.OnEvent(Frame{JPEG: []byte("forced"), Hash: 99})
	assert.Equal(t, Idle, f.State())

	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"video", "activityEnd"}, keys)
}

func TestForceFrameTimeoutClosesTurnWithoutWaitingForever(t *testing.T) {
	f := New(func() {})
	f.OnEvent(SpeechStart{})
	f.DrainOutbound()
	f.OnEvent(Frame{JPEG: []byte("cached"), Hash: 1})
	f.DrainOutbound()

	f.OnEvent(SpeechEnd{})
	f.DrainOutbound()

	// Before the timeout elapses, nothing should close.
	f.CheckForceFrameTimeout()
	assert.Equal(t, WaitingForForcedFrame, f.State())

	f.forceFrameWaitStart = time.Now().Add(-2 * ForceFrameTimeout)
	f.CheckForceFrameTimeout()
	assert.Equal(t, Idle, f.State())

	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"video", "activityEnd"}, keys)
}

func TestSpeechStartWhileWaitingForFrameAbandonsWaitAndReopens(t *testing.T) {
	f := New(func() {})
	f.OnEvent(SpeechStart{})
	f.DrainOutbound()
	f.OnEvent(Frame{JPEG: []byte("cached"), Hash: 1})
	f.DrainOutbound()
	f.OnEvent(SpeechEnd{})
	f.DrainOutbound()

	f.OnEvent(SpeechStart{})
	assert.Equal(t, AudioTurn, f.State())

	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"video", "activityEnd", "activityStart"}, keys)
}

func TestPendingVideoTurnIsInterruptedBySpeechStart(t *testing.T) {
	f := New(nil)
	f.OnEvent(Frame{JPEG: []byte("a"), Hash: 1})
	f.OnEvent(Frame{JPEG: []byte("b"), Hash: 2}) // flushes a video turn, state -> Idle
	f.DrainOutbound()

	f.OnEvent(SpeechStart{})
	keys := msgKeys(t, f.DrainOutbound())
	assert.Equal(t, []string{"setup", "activityStart"}, keys, "a pending video turn must be interrupted before the audio turn opens")
}

func TestResponseReceivedTracksLatencyStats(t *testing.T) {
	f := New(nil)
	f.OnEvent(SpeechStart{})
	f.DrainOutbound()
	f.OnEvent(Frame{JPEG: []byte("f"), Hash: 1})
	f.DrainOutbound()
	f.OnEvent(SpeechEnd{})
	f.DrainOutbound()
	f.OnEvent(Frame{JPEG: []byte("forced"), Hash: 2})
	f.DrainOutbound()

	before := f.Stats()
	assert.Equal(t, 1, before.PendingTurns)

	f.OnEvent(ResponseReceived{})
	after := f.Stats()
	assert.Equal(t, 0, after.PendingTurns)
	assert.Equal(t, 1, after.SampleCount)
}
