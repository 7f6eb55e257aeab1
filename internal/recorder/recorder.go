// Package recorder is a passive observer of the turn FSM's output: it
// mirrors each turn's audio and video to a per-run, per-turn directory
// tree on disk when enabled, without affecting dispatch. Grounded on
// TurnRecorder in original_source/src/recorder.rs.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agalue/silent-copilot/internal/logging"
)

// Recorder writes turn audio/video to recordings/<run-id>/turn_*/ when
// enabled; when disabled every method is a cheap no-op.
type Recorder struct {
	enabled bool
	base    string

	mu sync.Mutex

	curDir             string
	curAudio           *os.File
	pendingCloseOnEnd  bool // delay directory close until the turn's activityEnd
	nextVideoTurnID    uint64
}

// New creates a recorder rooted at recordings/<timestamp>_<short-run-id>.
// When enabled is false the directory is never created.
func New(enabled bool) *Recorder {
	runID := uuid.NewString()[:8]
	base := filepath.Join("recordings", time.Now().Format("20060102_150405")+"_"+runID)

	r := &Recorder{
		enabled:         enabled,
		base:            base,
		nextVideoTurnID: 1000, // distinguishes video-only turns from numbered audio turns
	}

	if enabled {
		if err := os.MkdirAll(base, 0o755); err != nil {
			logging.Default().Error("failed to create recordings directory", "err", err)
		} else {
			logging.Default().Info("recording enabled", "dir", base)
		}
	}

	return r
}

// OnActivityStart opens a new per-turn directory for an audio turn keyed
// by its numeric turn id.
func (r *Recorder) OnActivityStart(turnID uint64) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.base, fmt.Sprintf("turn_%03d_%s", turnID, time.Now().Format("150405.000")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Default().Error("failed to create turn directory", "err", err)
		return
	}

	r.curDir = dir
	r.pendingCloseOnEnd = false

	f, err := os.Create(filepath.Join(dir, "audio.pcm"))
	if err != nil {
		logging.Default().Error("failed to create audio file", "err", err)
		return
	}
	r.curAudio = f
}

// OnAudioChunk appends raw little-endian PCM16 bytes to the open turn's
// audio.pcm.
func (r *Recorder) OnAudioChunk(pcm []byte) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curAudio == nil {
		return
	}
	if _, err := r.curAudio.Write(pcm); err != nil {
		logging.Default().Error("failed to write audio chunk", "err", err)
	}
}

// OnVideoFrame saves a JPEG frame under the currently open turn directory,
// if any is open; with no open directory the frame is not saved. A
// video-only turn's directory is opened by EnsureVideoTurnDir, which the
// caller invokes before OnVideoFrame, rather than by OnActivityStart.
func (r *Recorder) OnVideoFrame(jpeg []byte) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curDir == "" {
		return
	}
	path := filepath.Join(r.curDir, fmt.Sprintf("frame_%s.jpg", time.Now().Format("150405.000")))
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		logging.Default().Error("failed to write frame", "err", err)
	}
}

// EnsureVideoTurnDir opens a fresh turn_v<NNN>_* directory for a
// video-only turn if none is currently open. Safe to call unconditionally
// on every activityStart; it's a no-op once a directory is already open
// (including one opened by OnActivityStart for an audio turn).
func (r *Recorder) EnsureVideoTurnDir() {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curDir != "" {
		return
	}

	turnID := r.nextVideoTurnID
	r.nextVideoTurnID++

	dir := filepath.Join(r.base, fmt.Sprintf("turn_v%03d_%s", turnID, time.Now().Format("150405.000")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Default().Error("failed to create video turn directory", "err", err)
		return
	}
	r.curDir = dir
}

// OnActivityEnd closes the current turn's audio file immediately, but
// defers closing the directory itself: a forced frame captured right
// before activityEnd (see internal/turn) must still land in this turn's
// directory, so the directory only closes once the caller explicitly
// confirms the turn's activityEnd has actually been sent downstream.
func (r *Recorder) OnActivityEnd() {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curAudio != nil {
		if err := r.curAudio.Close(); err != nil {
			logging.Default().Error("failed to close audio file", "err", err)
		}
		r.curAudio = nil
	}
	r.pendingCloseOnEnd = true
}

// CloseTurnDir closes whatever turn directory is currently open. Callers
// invoke this once the activityEnd message has actually gone out over the
// wire, matching the Rust original's pending_audio_close_for_turn gate.
func (r *Recorder) CloseTurnDir() {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.curDir = ""
	r.pendingCloseOnEnd = false
}

// WrapWAV wraps raw little-endian PCM16 samples with a canonical 44-byte
// WAV header. Unused by the hot recording path; offered as an offline
// tooling helper for turning a saved audio.pcm into a playable .wav,
// grounded on add_wav_header in original_source/src/recorder.rs.
func WrapWAV(pcm []byte, sampleRate uint32, channels uint16) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * uint32(channels) * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := uint32(len(pcm))
	fileSize := 36 + dataSize

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = appendLE32(out, fileSize)
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = appendLE32(out, 16)
	out = appendLE16(out, 1) // PCM
	out = appendLE16(out, channels)
	out = appendLE32(out, sampleRate)
	out = appendLE32(out, byteRate)
	out = appendLE16(out, blockAlign)
	out = appendLE16(out, bitsPerSample)

	out = append(out, "data"...)
	out = appendLE32(out, dataSize)
	out = append(out, pcm...)

	return out
}

func appendLE32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendLE16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
