// Package pipeline wires the ring buffer, VAD, boundary FSM, ASR pool,
// segment emitter, screen capturer, turn dispatcher, recorder, and wire
// sink into the running sense-and-dispatch graph described by the
// concurrency model: dedicated goroutines for blocking work (audio
// capture, ASR workers, the segmenter loop) and cooperative goroutines for
// the video ticker, turn FSM runner, recorder, and wire writer. Grounded
// on the teacher's cmd/assistant/main.go wiring style — a flat sequence of
// component construction plus a handful of "pump" goroutines connected by
// channels — generalized from its single linear voice pipeline into this
// spec's multi-source fan-in/fan-out graph.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/agalue/silent-copilot/internal/asr"
	"github.com/agalue/silent-copilot/internal/audio"
	"github.com/agalue/silent-copilot/internal/boundary"
	"github.com/agalue/silent-copilot/internal/config"
	"github.com/agalue/silent-copilot/internal/logging"
	"github.com/agalue/silent-copilot/internal/recorder"
	"github.com/agalue/silent-copilot/internal/ring"
	"github.com/agalue/silent-copilot/internal/screen"
	"github.com/agalue/silent-copilot/internal/segment"
	"github.com/agalue/silent-copilot/internal/turn"
	"github.com/agalue/silent-copilot/internal/vad"
	"github.com/agalue/silent-copilot/internal/wire"
)

// frameChanCapacity bounds the mic/monitor sample channels feeding the
// segmenter loop; per spec.md §5 these are non-blocking-or-drop on the hot
// path.
const frameChanCapacity = 64

// Pipeline owns every live component and the goroutines connecting them.
type Pipeline struct {
	cfg *config.Config

	ringBuf  *ring.Buffer
	detector vad.Detector
	boundary *boundary.FSM
	asrPool  *asr.Pool
	emitter  *segment.Emitter
	screen   *screen.Capturer
	dispatch *turn.FSM
	rec      *recorder.Recorder
	sink     wire.Sink

	micCapturer *audio.Capturer
	monCapturer *audio.Capturer
	micFramer   *audio.Framer
	monFramer   *audio.Framer

	forceFrameCh chan struct{}
	micFrames    chan []int16
	monFrames    chan []int16

	nextSegmentID uint64
	segMu         sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Pipeline. frameSource supplies raw screenshots; sink is
// the already-connected websocket (or other) transport the turn FSM's
// messages are written to.
func New(cfg *config.Config, frameSource screen.FrameSource, sink wire.Sink) (*Pipeline, error) {
	ringBuf := ring.New(cfg.RingCapacity)

	detector, err := vad.NewSileroDetector(vad.Config{
		ModelPath:  cfg.VADModel,
		Threshold:  cfg.VADThreshold,
		SampleRate: cfg.SampleRate,
		NumThreads: cfg.VADThreads,
	})
	if err != nil {
		return nil, err
	}

	bcfg := boundary.DefaultConfig()
	bcfg.OpenVoicedFrames = cfg.OpenVoicedFrames
	bcfg.CloseSilenceMs = cfg.CloseSilenceMs
	bcfg.MaxTurnMs = cfg.MaxTurnMs
	bcfg.MinClauseTokens = cfg.MinClauseTokens
	bcfg.PermissiveClauses = cfg.PermissiveClauses
	bcfg.SampleRate = cfg.SampleRate
	boundaryFSM := boundary.New(bcfg)

	asrPool, err := asr.New(asr.Config{
		Encoder:         cfg.WhisperEncoder,
		Decoder:         cfg.WhisperDecoder,
		Tokens:          cfg.WhisperTokens,
		Language:        cfg.STTLanguage,
		Provider:        cfg.Provider,
		NumThreads:      cfg.STTThreads,
		PoolSize:        cfg.AsrPoolSize,
		SampleRate:      cfg.SampleRate,
		MinClauseTokens: cfg.MinClauseTokens,
	})
	if err != nil {
		return nil, err
	}

	emitter := segment.New(ringBuf, time.Duration(cfg.AsrTimeoutMs)*time.Millisecond)
	capturer := screen.NewCapturer(frameSource, cfg.JPEGQuality)
	rec := recorder.New(cfg.Record)

	p := &Pipeline{
		cfg:          cfg,
		ringBuf:      ringBuf,
		detector:     detector,
		boundary:     boundaryFSM,
		asrPool:      asrPool,
		emitter:      emitter,
		screen:       capturer,
		rec:          rec,
		sink:         sink,
		micFramer:    audio.NewFramer(),
		monFramer:    audio.NewFramer(),
		forceFrameCh: make(chan struct{}, 1),
		micFrames:    make(chan []int16, frameChanCapacity),
		monFrames:    make(chan []int16, frameChanCapacity),
		// segment.Emitter expects ids to start at 1.
		nextSegmentID: 1,
	}
	p.dispatch = turn.New(p.requestForceFrame)

	return p, nil
}

func (p *Pipeline) requestForceFrame() {
	select {
	case p.forceFrameCh <- struct{}{}:
	default:
	}
}

// Run starts every goroutine and blocks until ctx is cancelled, then waits
// for each loop to return (every loop exits when ctx is done) before
// closing the ASR pool and the VAD detector.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	if err := p.startCapture(); err != nil {
		return err
	}
	defer p.stopCapture()

	p.wg.Add(1)
	go p.runSegmenterLoop(ctx)

	p.wg.Add(1)
	go p.runVideoTicker(ctx)

	p.wg.Add(1)
	go p.runDispatcherLoop(ctx)

	<-ctx.Done()
	p.wg.Wait()
	p.asrPool.Close()
	p.detector.Close()
	return nil
}

// Stop cancels the running pipeline; safe to call once.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) startCapture() error {
	if p.cfg.AudioSource != config.AudioSourceSystem {
		mic, err := audio.NewCapturer(p.cfg.SampleRate, false, p.frameAndSend(p.micFramer, p.micFrames))
		if err != nil {
			return err
		}
		p.micCapturer = mic
		if err := mic.Start(); err != nil {
			return err
		}
	}

	if p.cfg.AudioSource == config.AudioSourceMixed || p.cfg.AudioSource == config.AudioSourceSystem {
		// For System-only, the monitor stream substitutes for the
		// microphone entirely by feeding the same micFrames channel the
		// segmenter loop reads from; for Mixed, it feeds monFrames so
		// runSegmenterLoop blends the two via audio.Mix. Either way it
		// gets its own Framer: the two streams arrive in independently
		// sized chunks and must be re-sliced to FrameSize separately.
		target := p.monFrames
		framer := p.monFramer
		if p.cfg.AudioSource == config.AudioSourceSystem {
			target = p.micFrames
			framer = p.micFramer
		}
		mon, err := audio.NewCapturer(p.cfg.SampleRate, true, p.frameAndSend(framer, target))
		if err != nil {
			logging.Default().Error("failed to start monitor capture, falling back to mic-only", "err", err)
		} else {
			p.monCapturer = mon
			if err := mon.Start(); err != nil {
				logging.Default().Error("failed to start monitor capture device", "err", err)
				p.monCapturer = nil
			}
		}
	}
	return nil
}

// frameAndSend returns a Capturer onSamples callback that re-slices
// whatever chunk size the capture device/resampler produced into exact
// audio.FrameSize frames via framer, then pushes each complete frame onto
// target without blocking — a full channel just drops the frame, matching
// the non-blocking-hot-path policy the rest of the capture path follows.
func (p *Pipeline) frameAndSend(framer *audio.Framer, target chan<- []int16) func(samples []int16) {
	return func(samples []int16) {
		for _, frame := range framer.Push(samples) {
			select {
			case target <- frame:
			default:
			}
		}
	}
}

func (p *Pipeline) stopCapture() {
	if p.micCapturer != nil {
		p.micCapturer.Close()
	}
	if p.monCapturer != nil {
		p.monCapturer.Close()
	}
}

// runSegmenterLoop is the dedicated "audio segmenter" thread. It is the
// boundary FSM's only caller, since the FSM is documented as unsafe for
// concurrent use: both fresh PCM frames and ASR clause proposals are
// merged into the same select so ProcessFrame and HandleAsrProposal never
// race each other. It runs VAD, advances the boundary FSM, pushes into the
// ring buffer, submits ASR requests against the currently-open segment,
// and hands closed segments to the segment emitter.
func (p *Pipeline) runSegmenterLoop(ctx context.Context) {
	defer p.wg.Done()

	var lastAsrSubmit time.Time
	asrPollInterval := time.Duration(p.cfg.AsrPollMs) * time.Millisecond
	wasRecording := false

	for {
		select {
		case <-ctx.Done():
			return

		case prop, ok := <-p.asrPool.Proposals():
			if !ok {
				continue
			}
			// Only a proposal for the currently open segment may close it.
			if prop.SegmentID == p.currentSegmentID() {
				if ev, closed := p.boundary.HandleAsrProposal(prop, p.ringBuf.CurrentGlobalIndex()); closed {
					p.commitSegment(ev)
					continue
				}
			}
			// Either rejected for the open segment, or a late proposal for a
			// segment that already closed by silence/max-length.
			// AddTranscript is a no-op unless prop.SegmentID is still a
			// pending commit.
			p.emitter.AddTranscript(prop.SegmentID, prop.Text)
			p.drainReadySegments()

		case mic := <-p.micFrames:
			frame := mic
			if p.monCapturer != nil {
				select {
				case mon := <-p.monFrames:
					if len(mon) == len(mic) {
						frame = audio.Mix(mic, mon)
					}
				default:
				}
			}

			globalStart := p.ringBuf.Push(frame)
			globalEnd := globalStart + uint64(len(frame))

			voiced, err := p.detector.IsVoiced(frame)
			if err != nil {
				logging.Default().Error("vad error, treating frame as unvoiced", "err", err)
				voiced = false
			}

			ev, closed := p.boundary.ProcessFrame(boundary.Frame{GlobalStart: globalStart, Voiced: voiced}, globalEnd)
			recording := p.boundary.State() == boundary.Recording
			if recording && !wasRecording {
				p.dispatch.OnEvent(turn.SpeechStart{})
				p.flushOutbound()
				p.rec.OnActivityStart(p.nextSegmentID)
			}
			wasRecording = recording

			if closed {
				p.commitSegment(ev)
			} else {
				// Releases a commit whose transcript wait has timed out.
				p.drainReadySegments()
			}

			if recording && time.Since(lastAsrSubmit) >= asrPollInterval {
				lastAsrSubmit = time.Now()
				if segStart, ok := p.boundary.CurrentSegmentStart(); ok {
					if pcm, ok := p.ringBuf.GetRange(segStart, globalEnd); ok {
						p.asrPool.Submit(asr.Request{
							SegmentID:   p.currentSegmentID(),
							Audio:       pcm,
							GlobalStart: segStart,
							GlobalEnd:   globalEnd,
						})
					}
				}
			}
		}
	}
}

// currentSegmentID reports the id the currently open segment will be
// committed under — the same value commitSegment will read next, since
// only this goroutine ever mutates nextSegmentID.
func (p *Pipeline) currentSegmentID() uint64 {
	p.segMu.Lock()
	defer p.segMu.Unlock()
	return p.nextSegmentID
}

func (p *Pipeline) commitSegment(ev boundary.Event) {
	p.segMu.Lock()
	id := p.nextSegmentID
	p.nextSegmentID++
	p.segMu.Unlock()

	p.emitter.Commit(id, ev)
	p.drainReadySegments()
}

func (p *Pipeline) drainReadySegments() {
	for {
		seg, ok := p.emitter.Pop()
		if !ok {
			return
		}
		pcmBytes := pcmToBytes(seg.Audio)
		p.rec.OnAudioChunk(pcmBytes)
		p.dispatch.OnEvent(turn.AudioChunk{PCM: pcmBytes})
		p.flushOutbound()
		p.dispatch.OnEvent(turn.SpeechEnd{})
		p.flushOutbound()
		p.rec.OnActivityEnd()
	}
}

// runVideoTicker is the cooperative ~2 Hz video polling loop, plus the
// out-of-cadence forced-capture path the dispatcher uses after SpeechEnd.
func (p *Pipeline) runVideoTicker(ctx context.Context) {
	defer p.wg.Done()

	interval := time.Second / time.Duration(max(p.cfg.VideoFPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	forceTimeoutTicker := time.NewTicker(turn.ForceFrameTimeout)
	defer forceTimeoutTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollFrame()
		case <-p.forceFrameCh:
			p.pollFrameForced()
		case <-forceTimeoutTicker.C:
			p.dispatch.CheckForceFrameTimeout()
			p.flushOutbound()
		}
	}
}

func (p *Pipeline) pollFrame() {
	frame, changed, err := p.screen.Poll()
	if err != nil {
		logging.Default().Error("screen capture error", "err", err)
		return
	}
	if !changed {
		return
	}
	p.emitFrame(frame)
}

// pollFrameForced captures a frame for the turn FSM's forced-capture path
// (triggered after SpeechEnd), bypassing screen.Capturer's duplicate-hash
// throttle: spec.md requires a forced capture to produce a frame even when
// the screen hasn't changed since the last regular poll.
func (p *Pipeline) pollFrameForced() {
	frame, err := p.screen.PollForce()
	if err != nil {
		logging.Default().Error("forced screen capture error", "err", err)
		return
	}
	p.emitFrame(frame)
}

func (p *Pipeline) emitFrame(frame screen.Frame) {
	p.rec.EnsureVideoTurnDir()
	p.rec.OnVideoFrame(frame.JPEG)
	p.dispatch.OnEvent(turn.Frame{JPEG: frame.JPEG, Hash: frame.Hash})
	p.flushOutbound()
}

// runDispatcherLoop periodically checks for inbound ResponseReceived
// notifications; in this boundary contract those arrive externally via
// NotifyResponseReceived, so this loop only exists to keep a consistent
// per-component goroutine shape and to give ctx a place to stop things.
func (p *Pipeline) runDispatcherLoop(ctx context.Context) {
	defer p.wg.Done()
	<-ctx.Done()
}

// NotifyResponseReceived is called by the remote-service client (external
// to this core) whenever it finishes generation for the oldest pending
// turn.
func (p *Pipeline) NotifyResponseReceived() {
	p.dispatch.OnEvent(turn.ResponseReceived{})
}

// flushOutbound writes every message the dispatcher queued since the last
// flush to the wire sink, in order, and closes the recorder's turn
// directory once an activityEnd has actually gone out.
func (p *Pipeline) flushOutbound() {
	for _, msg := range p.dispatch.DrainOutbound() {
		if err := p.sink.Send(msg); err != nil {
			logging.Default().Error("wire send failed", "err", err)
		}
		if isActivityEnd(msg) {
			p.rec.CloseTurnDir()
		}
	}
}

func isActivityEnd(msg []byte) bool {
	const marker = `"activityEnd"`
	return len(msg) > len(marker) && containsSubslice(msg, []byte(marker))
}

func containsSubslice(haystack, needle []byte) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

