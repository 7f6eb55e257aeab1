// Package asr runs a fixed-size pool of transcription workers that pull
// raw segment audio off a bounded, non-blocking queue and propose clause
// boundaries back to the boundary FSM. Grounded on AsrWorkerPool /
// asr_worker_shared / extract_clause_boundary in
// original_source/src/audio_seg.rs, using the teacher's
// internal/stt.Recognizer offline-recognizer call shape for the sherpa-onnx
// binding itself.
package asr

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/agalue/silent-copilot/internal/boundary"
	"github.com/agalue/silent-copilot/internal/logging"
	"github.com/agalue/silent-copilot/internal/sherpa"
)

// minInferenceSamples pads short clips to ~1.005s, matching Whisper's
// practical minimum window (the Rust original pads to 16080 samples).
const minInferenceSamples = 16080

// Request is one unit of work submitted to the pool. SegmentID identifies
// the boundary-FSM segment this audio was cut from, so the resulting
// proposal can be correlated back to it even if that segment closes (by
// silence or max length) before the proposal comes back.
type Request struct {
	ID          uint64
	SegmentID   uint64
	Audio       []int16
	GlobalStart uint64
	GlobalEnd   uint64
}

// Config configures the worker pool and the shared recognizer model.
type Config struct {
	PoolSize        int
	MinClauseTokens int
	Encoder         string
	Decoder         string
	Tokens          string
	Language        string
	Provider        string
	NumThreads      int
	SampleRate      int
	Debug           bool
}

// Pool is a fixed-size set of ASR workers sharing one read-only recognizer
// model but each with its own decode stream.
type Pool struct {
	cfg        Config
	recognizer *sherpa.OfflineRecognizer
	requests   chan Request
	proposals  chan boundary.AsrProposal
	shutdown   atomic.Bool
	wg         sync.WaitGroup
}

// New creates and starts the worker pool. If the encoder path is empty,
// the pool runs with zero workers: Submit drops every request and returns
// false, which matches the "ASR proposals are advisory" design
// (spec.md §4.4) for deployments that segment on silence/max-length alone.
func New(cfg Config) (*Pool, error) {
	p := &Pool{
		cfg:       cfg,
		requests:  make(chan Request, 32),
		proposals: make(chan boundary.AsrProposal, 32),
	}

	if cfg.Encoder == "" {
		return p, nil
	}

	recognizerConfig := &sherpa.OfflineRecognizerConfig{}
	recognizerConfig.ModelConfig.Whisper.Encoder = cfg.Encoder
	recognizerConfig.ModelConfig.Whisper.Decoder = cfg.Decoder
	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	recognizerConfig.ModelConfig.Whisper.Language = language
	recognizerConfig.ModelConfig.Whisper.Task = "transcribe"
	recognizerConfig.ModelConfig.Whisper.TailPaddings = -1
	recognizerConfig.ModelConfig.Tokens = cfg.Tokens
	recognizerConfig.ModelConfig.NumThreads = cfg.NumThreads
	recognizerConfig.ModelConfig.Provider = cfg.Provider
	recognizerConfig.DecodingMethod = "greedy_search"
	if cfg.Debug {
		recognizerConfig.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(recognizerConfig)
	if recognizer == nil {
		return nil, errNewRecognizer
	}
	p.recognizer = recognizer

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	for i := 0; i < poolSize; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p, nil
}

var errNewRecognizer = errorString("asr: failed to create offline recognizer")

type errorString string

func (e errorString) Error() string { return string(e) }

// Submit enqueues audio for transcription without blocking. It returns
// false if the pool has no workers, has been shut down, or the request
// queue is full, matching the Rust original's
// skip-not-wait back-pressure policy — a dropped ASR submission never
// blocks the boundary FSM, it just means that poll cycle contributes no
// clause proposal.
func (p *Pool) Submit(req Request) bool {
	if p.recognizer == nil || p.shutdown.Load() {
		return false
	}
	select {
	case p.requests <- req:
		return true
	default:
		logging.Default().Warn("asr request queue full, dropping", "id", req.ID)
		return false
	}
}

// Proposals returns the channel of clause-boundary proposals.
func (p *Pool) Proposals() <-chan boundary.AsrProposal {
	return p.proposals
}

// Shutdown stops accepting new work and signals workers to exit; it does
// not block waiting for in-flight transcriptions to finish.
func (p *Pool) Shutdown() {
	p.shutdown.Store(true)
}

// Close shuts down the pool and releases the shared recognizer. It should
// only be called after the caller is done driving Submit/Proposals.
func (p *Pool) Close() {
	p.Shutdown()
	p.wg.Wait()
	close(p.proposals)
	if p.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(p.recognizer)
		p.recognizer = nil
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := logging.With("component", "asr-worker", "worker", id)

	for {
		if p.shutdown.Load() {
			return
		}

		select {
		case req, ok := <-p.requests:
			if !ok {
				return
			}
			p.process(log, req)
		case <-time.After(100 * time.Millisecond):
			continue
		}
	}
}

func (p *Pool) process(log *charmlog.Logger, req Request) {
	stream := sherpa.NewOfflineStream(p.recognizer)
	if stream == nil {
		log.Error("failed to create offline stream", "id", req.ID)
		return
	}
	defer sherpa.DeleteOfflineStream(stream)

	samples := make([]float32, len(req.Audio))
	for i, s := range req.Audio {
		samples[i] = float32(s) / 32768.0
	}
	if len(samples) < minInferenceSamples {
		padded := make([]float32, minInferenceSamples)
		copy(padded, samples)
		samples = padded
	}

	stream.AcceptWaveform(p.cfg.SampleRate, samples)
	p.recognizer.Decode(stream)

	result := stream.GetResult()
	proposal, ok := extractClauseBoundary(result, req.GlobalStart, req.GlobalEnd, p.cfg.MinClauseTokens, p.cfg.SampleRate)
	if !ok {
		return
	}
	proposal.SegmentID = req.SegmentID

	select {
	case p.proposals <- proposal:
	default:
		log.Debug("proposal queue full, dropping", "id", req.ID)
	}
}

// extractClauseBoundary walks a Whisper result's token timestamps looking
// for the earliest point at which the accumulated text forms a valid
// clause, mirroring extract_clause_boundary in the Rust original (which
// converts whisper-rs's centisecond token offsets via `t1*0.01*16000`).
// sherpa-onnx's OfflineRecognizerResult reports timestamps in seconds
// already, so the conversion here is simply `timestamp*sampleRate`.
func extractClauseBoundary(result sherpa.OfflineRecognizerResult, globalStart, globalEnd uint64, minTokens, sampleRate int) (boundary.AsrProposal, bool) {
	if strings.TrimSpace(result.Text) == "" {
		return boundary.AsrProposal{}, false
	}
	if len(result.Tokens) == 0 || len(result.Timestamps) != len(result.Tokens) {
		return boundary.AsrProposal{}, false
	}

	var current strings.Builder
	for i, tok := range result.Tokens {
		if !strings.HasPrefix(tok, "[") {
			current.WriteString(tok)
		}

		text := current.String()
		if !isValidClauseSimple(text, minTokens) {
			continue
		}

		offsetSamples := uint64(result.Timestamps[i] * float32(sampleRate))
		clauseEnd := globalStart + offsetSamples
		if clauseEnd >= globalEnd {
			continue
		}

		return boundary.AsrProposal{
			ClauseEndIdx: clauseEnd,
			Text:         strings.TrimSpace(text),
			Confidence:   1.0,
		}, true
	}

	return boundary.AsrProposal{}, false
}

// isValidClauseSimple is the strict-only clause check the ASR pool uses to
// decide whether to propose a boundary at all; boundary.FSM re-validates
// with its own (possibly permissive) IsValidClause before acting on it.
func isValidClauseSimple(text string, minTokens int) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.ContainsAny(t[len(t)-1:], ".?!;") {
		return true
	}
	return len(strings.Fields(t)) >= minTokens
}
