package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityStartShape(t *testing.T) {
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(NewActivityStart(), &decoded))
	assert.Len(t, decoded, 1)
	assert.Contains(t, decoded, "activityStart")
}

func TestAudioMessageNeverMixesBytesAndMarkers(t *testing.T) {
	msg := NewAudio([]byte{1, 2, 3}, "audio/pcm;rate=16000")

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Len(t, decoded, 1, "an audio message must carry exactly one top-level key")
	assert.Contains(t, decoded, "audio")

	var inner struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	}
	require.NoError(t, json.Unmarshal(decoded["audio"], &inner))
	assert.Equal(t, "audio/pcm;rate=16000", inner.MimeType)
	assert.NotEmpty(t, inner.Data)
}

func TestActivityHandlingUpdateShape(t *testing.T) {
	msg := NewActivityHandlingUpdate(StartOfActivityInterrupt)

	var decoded struct {
		Setup struct {
			RealtimeInputConfig struct {
				ActivityHandling string `json:"activityHandling"`
			} `json:"realtimeInputConfig"`
		} `json:"setup"`
	}
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "START_OF_ACTIVITY_INTERRUPTS", decoded.Setup.RealtimeInputConfig.ActivityHandling)
}

func TestSplitBytesCapsFirstChunkAndRespectsMax(t *testing.T) {
	data := make([]byte, FirstChunkBytes+MaxMessageBytes+10)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := SplitBytes(data)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], FirstChunkBytes)
	assert.Len(t, chunks[1], MaxMessageBytes)
	assert.Len(t, chunks[2], 10)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	assert.Equal(t, data, reassembled)
}

func TestSplitBytesSmallPayloadIsSingleChunk(t *testing.T) {
	data := []byte("small audio chunk")
	chunks := SplitBytes(data)
	require.Len(t, chunks, 1)
	assert.Equal(t, data, chunks[0])
}

func TestSplitBytesEmptyInput(t *testing.T) {
	assert.Nil(t, SplitBytes(nil))
}
