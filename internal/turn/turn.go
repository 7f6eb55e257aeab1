// Package turn implements the dispatcher FSM that decides how frames and
// audio chunks are batched into turns sent to the remote generative-model
// service, and tracks round-trip latency. Grounded closely on
// SimpleTurnFsm in original_source/src/simple_turn_fsm.rs; state names,
// transition set and constants are carried over unchanged, translated
// from Rust's enum-tuple match arms into a Go type switch.
package turn

import (
	"container/list"
	"encoding/json"
	"time"

	"github.com/agalue/silent-copilot/internal/wire"
)

// FramesPerTurn batches this many unique video frames into one turn while
// idle before sending them, trading a little latency for fewer round
// trips. Matches FRAMES_PER_TURN in the Rust original.
const FramesPerTurn = 2

// ForceFrameTimeout bounds how long an audio turn waits for a fresh,
// forced video frame before closing anyway with whatever frame it has
// cached. Matches FORCE_FRAME_TIMEOUT_MS.
const ForceFrameTimeout = 50 * time.Millisecond

// State names the four states of the dispatcher FSM.
type State int

const (
	Idle State = iota
	FrameBatch
	AudioTurn
	WaitingForForcedFrame
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FrameBatch:
		return "frame_batch"
	case AudioTurn:
		return "audio_turn"
	case WaitingForForcedFrame:
		return "waiting_for_forced_frame"
	default:
		return "unknown"
	}
}

// Event is implemented by each of the five dispatcher inputs.
type Event interface{ isEvent() }

type SpeechStart struct{}
type AudioChunk struct{ PCM []byte }
type SpeechEnd struct{}
type Frame struct {
	JPEG []byte
	Hash uint64
}
type ResponseReceived struct{}

func (SpeechStart) isEvent()      {}
func (AudioChunk) isEvent()       {}
func (SpeechEnd) isEvent()        {}
func (Frame) isEvent()            {}
func (ResponseReceived) isEvent() {}

// AudioMimeType and VideoMimeType are the fixed mime types this dispatcher
// always uses; the spec doesn't parameterize these.
const (
	AudioMimeType = "audio/pcm;rate=16000"
	VideoMimeType = "image/jpeg"
)

// turnEnd pairs a turn's end time with whether it was a video-only turn,
// for the latency FIFO.
type turnEnd struct {
	at      time.Time
	isVideo bool
}

// FSM is the dispatcher state machine. It is not safe for concurrent use.
type FSM struct {
	state State

	lastFrameHash       uint64
	frameBatch          [][]byte
	videoSentInAudioTurn bool
	lastFrameData       []byte

	forceFrameWaitStart time.Time
	waitingForFrame     bool

	outbound []json.RawMessage

	turnEnds        *list.List // of turnEnd
	pendingIsVideo  *list.List // of bool, parallels turnEnds
	recentLatencies []time.Duration
	maxLatencies    int

	needActivityReset bool

	// requestForceCapture asks the video capture loop for a fresh frame
	// right now; invoked when an audio turn ends speech and needs one
	// last frame before closing.
	requestForceCapture func()
}

// New creates an FSM in the Idle state. requestForceCapture is called
// whenever the FSM needs an out-of-cadence video frame; it may be nil in
// tests that drive Frame events manually.
func New(requestForceCapture func()) *FSM {
	return &FSM{
		state:               Idle,
		turnEnds:             list.New(),
		pendingIsVideo:       list.New(),
		maxLatencies:         100,
		requestForceCapture: requestForceCapture,
	}
}

// State returns the FSM's current state.
func (f *FSM) State() State {
	return f.state
}

// DrainOutbound returns and clears all messages queued since the last
// drain.
func (f *FSM) DrainOutbound() []json.RawMessage {
	out := f.outbound
	f.outbound = nil
	return out
}

// OnEvent processes one event, possibly queuing outbound wire messages and
// transitioning state.
func (f *FSM) OnEvent(ev Event) {
	switch e := ev.(type) {
	case SpeechStart:
		f.onSpeechStart()
	case AudioChunk:
		f.onAudioChunk(e)
	case SpeechEnd:
		f.onSpeechEnd()
	case Frame:
		f.onFrame(e)
	case ResponseReceived:
		f.onResponseReceived()
	}
}

func (f *FSM) onSpeechStart() {
	switch f.state {
	case Idle:
		f.beginAudioTurnInterruptingPendingVideo()
		f.state = AudioTurn

	case FrameBatch:
		if len(f.frameBatch) > 0 {
			f.flushFrameBatch()
		}
		f.beginAudioTurnInterruptingPendingVideo()
		f.state = AudioTurn

	case WaitingForForcedFrame:
		// Abandon the wait: close the previous audio turn with whatever
		// frame we have cached, then start a fresh one immediately.
		if f.lastFrameData != nil {
			f.sendVideo(f.lastFrameData)
		}
		f.flushActivityResetIfNeeded()
		f.sendActivityEnd()
		f.pushTurnEnd(false)

		f.sendActivityStart()
		f.videoSentInAudioTurn = false
		f.waitingForFrame = false
		f.state = AudioTurn

	case AudioTurn:
		// Already in an audio turn; a second SpeechStart is a no-op,
		// matching the Rust original's catch-all ignore arm.
	}
}

func (f *FSM) onAudioChunk(e AudioChunk) {
	if f.state != AudioTurn {
		return
	}
	f.sendAudio(e.PCM)
}

func (f *FSM) onSpeechEnd() {
	if f.state != AudioTurn {
		return
	}
	if f.requestForceCapture != nil {
		f.requestForceCapture()
	}
	f.forceFrameWaitStart = time.Now()
	f.waitingForFrame = true
	f.state = WaitingForForcedFrame
}

func (f *FSM) onFrame(e Frame) {
	// Any frame, duplicate or not, completes a forced-frame wait.
	if e.Hash == f.lastFrameHash && f.state != WaitingForForcedFrame {
		f.lastFrameData = e.JPEG
		return
	}

	switch f.state {
	case Idle:
		f.lastFrameData = e.JPEG
		if FramesPerTurn > 1 {
			f.frameBatch = append(f.frameBatch, e.JPEG)
			f.lastFrameHash = e.Hash
			f.state = FrameBatch
		} else {
			f.sendActivityStart()
			f.sendVideo(e.JPEG)
			f.sendActivityEnd()
			f.lastFrameHash = e.Hash
			f.pushTurnEnd(true)
		}

	case FrameBatch:
		f.lastFrameData = e.JPEG
		f.frameBatch = append(f.frameBatch, e.JPEG)
		f.lastFrameHash = e.Hash

		if len(f.frameBatch) >= FramesPerTurn {
			f.flushFrameBatch()
			f.state = Idle
		}

	case AudioTurn:
		f.lastFrameData = e.JPEG
		f.sendVideo(e.JPEG)
		f.lastFrameHash = e.Hash
		f.videoSentInAudioTurn = true

	case WaitingForForcedFrame:
		f.lastFrameData = e.JPEG
		f.sendVideo(e.JPEG)
		f.lastFrameHash = e.Hash

		f.flushActivityResetIfNeeded()
		f.sendActivityEnd()
		f.state = Idle
		f.waitingForFrame = false
		f.pushTurnEnd(false)
	}
}

func (f *FSM) onResponseReceived() {
	el := f.turnEnds.Front()
	if el == nil {
		return
	}
	f.turnEnds.Remove(el)
	f.pendingIsVideo.Remove(f.pendingIsVideo.Front())

	te := el.Value.(turnEnd)
	latency := time.Since(te.at)

	f.recentLatencies = append(f.recentLatencies, latency)
	if len(f.recentLatencies) > f.maxLatencies {
		f.recentLatencies = f.recentLatencies[1:]
	}
}

// CheckForceFrameTimeout should be polled periodically by the pipeline; if
// the FSM has been waiting too long for a forced frame, it closes the turn
// with whatever frame is cached instead of waiting indefinitely.
func (f *FSM) CheckForceFrameTimeout() {
	if f.state != WaitingForForcedFrame || !f.waitingForFrame {
		return
	}
	if time.Since(f.forceFrameWaitStart) <= ForceFrameTimeout {
		return
	}

	if f.lastFrameData != nil {
		f.sendVideo(f.lastFrameData)
	}
	f.flushActivityResetIfNeeded()
	f.sendActivityEnd()
	f.state = Idle
	f.waitingForFrame = false
	f.pushTurnEnd(false)
}

// Stats is observable round-trip telemetry; it is not part of the wire
// contract (spec.md §9 calls this out explicitly) and callers must not
// branch dispatch logic on it.
type Stats struct {
	PendingTurns int
	Min, Max, Avg time.Duration
	SampleCount  int
}

// Stats reports rolling latency stats over recent ResponseReceived events.
func (f *FSM) Stats() Stats {
	s := Stats{PendingTurns: f.turnEnds.Len(), SampleCount: len(f.recentLatencies)}
	if len(f.recentLatencies) == 0 {
		return s
	}

	s.Min, s.Max = f.recentLatencies[0], f.recentLatencies[0]
	var sum time.Duration
	for _, l := range f.recentLatencies {
		if l < s.Min {
			s.Min = l
		}
		if l > s.Max {
			s.Max = l
		}
		sum += l
	}
	s.Avg = sum / time.Duration(len(f.recentLatencies))
	return s
}

func (f *FSM) beginAudioTurnInterruptingPendingVideo() {
	pendingVideo := false
	for el := f.pendingIsVideo.Front(); el != nil; el = el.Next() {
		if el.Value.(bool) {
			pendingVideo = true
			break
		}
	}
	if pendingVideo {
		f.sendActivityHandlingUpdate(wire.StartOfActivityInterrupt)
		f.needActivityReset = true
	}

	f.sendActivityStart()
	f.videoSentInAudioTurn = false
}

func (f *FSM) flushFrameBatch() {
	f.sendActivityStart()
	frames := f.frameBatch
	f.frameBatch = nil
	for _, jpeg := range frames {
		f.sendVideo(jpeg)
	}
	f.sendActivityEnd()
	f.pushTurnEnd(true)
}

func (f *FSM) flushActivityResetIfNeeded() {
	if !f.needActivityReset {
		return
	}
	f.sendActivityHandlingUpdate(wire.NoInterruption)
	f.needActivityReset = false
}

func (f *FSM) pushTurnEnd(isVideo bool) {
	f.turnEnds.PushBack(turnEnd{at: time.Now(), isVideo: isVideo})
	f.pendingIsVideo.PushBack(isVideo)
}

func (f *FSM) sendActivityStart() {
	f.outbound = append(f.outbound, wire.NewActivityStart())
}

func (f *FSM) sendActivityEnd() {
	f.outbound = append(f.outbound, wire.NewActivityEnd())
}

// sendAudio splits pcm at wire's chunk ceilings before queuing, so a long
// segment's audio never goes out as one oversized websocket message.
func (f *FSM) sendAudio(pcm []byte) {
	for _, chunk := range wire.SplitBytes(pcm) {
		f.outbound = append(f.outbound, wire.NewAudio(chunk, AudioMimeType))
	}
}

// sendVideo splits jpeg the same way sendAudio splits PCM; a single frame
// is normally well under the ceiling, but an oversized capture (e.g. a
// high-DPI multi-monitor screenshot) shouldn't blow past MaxMessageBytes.
func (f *FSM) sendVideo(jpeg []byte) {
	for _, chunk := range wire.SplitBytes(jpeg) {
		f.outbound = append(f.outbound, wire.NewVideo(chunk, VideoMimeType))
	}
}

func (f *FSM) sendActivityHandlingUpdate(mode wire.ActivityHandlingMode) {
	f.outbound = append(f.outbound, wire.NewActivityHandlingUpdate(mode))
}
