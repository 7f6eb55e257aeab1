// Package vad classifies individual 20ms audio frames as voiced or
// unvoiced. Unlike the teacher's internal/stt.Recognizer, classification
// here is the whole job — segment boundaries are the boundary FSM's
// responsibility, not the detector's.
package vad

import (
	"fmt"

	"github.com/agalue/silent-copilot/internal/sherpa"
)

// FrameSamples is the fixed frame size this package accepts: 20ms at 16kHz.
const FrameSamples = 320

// Detector decides whether a single frame contains voiced speech.
type Detector interface {
	IsVoiced(frame []int16) (bool, error)
	Close()
}

// Config configures the default Silero-backed detector.
type Config struct {
	ModelPath   string
	Threshold   float32
	SampleRate  int
	NumThreads  int
	WindowSize  int
	Debug       bool
}

// sileroDetector binds sherpa-onnx's Silero VAD, grounded on the teacher's
// internal/stt.Recognizer VAD setup, but stripped down to a pure per-frame
// classifier: no segment buffering, no wake-word handling.
type sileroDetector struct {
	vad *sherpa.VoiceActivityDetector
}

// NewSileroDetector creates a Detector backed by sherpa-onnx's Silero VAD.
func NewSileroDetector(cfg Config) (Detector, error) {
	vadConfig := &sherpa.VadModelConfig{}
	vadConfig.SileroVad.Model = cfg.ModelPath
	vadConfig.SileroVad.Threshold = cfg.Threshold
	vadConfig.SileroVad.MinSilenceDuration = 0.1
	vadConfig.SileroVad.MinSpeechDuration = 0.02
	vadConfig.SileroVad.MaxSpeechDuration = 30.0
	vadConfig.SileroVad.WindowSize = cfg.WindowSize
	vadConfig.SampleRate = cfg.SampleRate
	vadConfig.NumThreads = cfg.NumThreads
	if cfg.Debug {
		vadConfig.Debug = 1
	}

	// 60s ring inside sherpa is plenty; our own boundary/ring packages own
	// the actual turn-length buffering.
	vad := sherpa.NewVoiceActivityDetector(vadConfig, 60.0)
	if vad == nil {
		return nil, fmt.Errorf("vad: failed to create silero voice activity detector")
	}
	return &sileroDetector{vad: vad}, nil
}

// IsVoiced classifies a single 20ms frame. A single sherpa VAD instance is
// not safe for concurrent use; callers (the frame pipeline) serialize
// access to a given Detector.
func (d *sileroDetector) IsVoiced(frame []int16) (bool, error) {
	if len(frame) != FrameSamples {
		return false, fmt.Errorf("vad: expected %d samples, got %d", FrameSamples, len(frame))
	}

	f32 := make([]float32, len(frame))
	for i, s := range frame {
		f32[i] = float32(s) / 32768.0
	}

	d.vad.AcceptWaveform(f32)
	speech := d.vad.IsSpeech()

	// Silero buffers completed segments internally; since we only want the
	// frame-level decision we drain and discard them so the internal
	// buffer doesn't grow unbounded.
	for !d.vad.IsEmpty() {
		d.vad.Pop()
	}

	return speech, nil
}

func (d *sileroDetector) Close() {
	if d.vad != nil {
		sherpa.DeleteVoiceActivityDetector(d.vad)
		d.vad = nil
	}
}
