// Package wire defines the outbound JSON message shapes sent to the
// remote generative-model service and a Sink that delivers them over a
// websocket. Grounded on the message-construction helpers in
// original_source/src/simple_turn_fsm.rs (send_activity_start,
// send_audio, send_video, send_activity_handling_update) and the transport
// chunking in send_turn_to_gemini in original_source/src/audio_seg.rs.
//
// Every message mixes either raw-data markers (audio/video) or control
// markers (activityStart/activityEnd/setup) — never both in one object,
// matching the wire contract spec.md §4.6 requires.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrSinkClosed is returned by Send once the sink has been closed.
var ErrSinkClosed = errors.New("wire: sink is closed")

// ActivityHandlingMode names the two realtimeInputConfig.activityHandling
// values the turn FSM switches between.
type ActivityHandlingMode string

const (
	NoInterruption           ActivityHandlingMode = "NO_INTERRUPTION"
	StartOfActivityInterrupt ActivityHandlingMode = "START_OF_ACTIVITY_INTERRUPTS"
)

// NewActivityStart builds an {"activityStart":{}} message.
func NewActivityStart() json.RawMessage {
	return mustMarshal(map[string]any{"activityStart": map[string]any{}})
}

// NewActivityEnd builds an {"activityEnd":{}} message.
func NewActivityEnd() json.RawMessage {
	return mustMarshal(map[string]any{"activityEnd": map[string]any{}})
}

// NewAudio builds an {"audio":{"data":...,"mimeType":...}} message, base64
// encoding raw PCM bytes.
func NewAudio(pcm []byte, mimeType string) json.RawMessage {
	return mustMarshal(map[string]any{
		"audio": map[string]any{
			"data":     base64.StdEncoding.EncodeToString(pcm),
			"mimeType": mimeType,
		},
	})
}

// NewVideo builds a {"video":{"data":...,"mimeType":...}} message.
func NewVideo(jpeg []byte, mimeType string) json.RawMessage {
	return mustMarshal(map[string]any{
		"video": map[string]any{
			"data":     base64.StdEncoding.EncodeToString(jpeg),
			"mimeType": mimeType,
		},
	})
}

// NewActivityHandlingUpdate builds a setup message switching the remote
// service's interruption mode.
func NewActivityHandlingUpdate(mode ActivityHandlingMode) json.RawMessage {
	return mustMarshal(map[string]any{
		"setup": map[string]any{
			"realtimeInputConfig": map[string]any{
				"activityHandling": string(mode),
			},
		},
	})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only ever called with literal maps of strings/bytes above; a
		// marshal failure here means a programming error, not bad input.
		panic(err)
	}
	return b
}

// Sink delivers JSON messages to the remote service.
type Sink interface {
	Send(msg json.RawMessage) error
	Close() error
}
