package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agalue/silent-copilot/internal/wire"
)

func TestPcmToBytesRoundTripsLittleEndian(t *testing.T) {
	samples := []int16{1, -1, 32767, -32768, 0}
	out := pcmToBytes(samples)
	assert.Len(t, out, len(samples)*2)
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, byte(0), out[1])
	// -1 as int16 little-endian is 0xFF 0xFF.
	assert.Equal(t, byte(0xFF), out[2])
	assert.Equal(t, byte(0xFF), out[3])
}

func TestIsActivityEndDetectsMarker(t *testing.T) {
	assert.True(t, isActivityEnd(json.RawMessage(wire.NewActivityEnd())))
	assert.False(t, isActivityEnd(json.RawMessage(wire.NewActivityStart())))
	assert.False(t, isActivityEnd(json.RawMessage(wire.NewAudio([]byte{1, 2}, "audio/pcm;rate=16000"))))
}

func TestContainsSubsliceEdgeCases(t *testing.T) {
	assert.True(t, containsSubslice([]byte("hello world"), []byte("world")))
	assert.False(t, containsSubslice([]byte("hello"), []byte("worldly")))
	assert.False(t, containsSubslice([]byte("hello"), nil))
}
