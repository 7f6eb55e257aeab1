// Package boundary implements the tri-state finite state machine that
// decides where one audio turn ends and the next begins, grounded on
// BoundaryFSM in original_source/src/audio_seg.rs.
package boundary

import (
	"strings"
	"time"
)

// State names the three stable states of the boundary FSM.
type State int

const (
	Idle State = iota
	Recording
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Committing:
		return "committing"
	default:
		return "unknown"
	}
}

// CloseReason records why a segment was closed.
type CloseReason int

const (
	ReasonSilence CloseReason = iota
	ReasonMaxLength
	ReasonAsrClause
)

func (r CloseReason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxLength:
		return "max_length"
	case ReasonAsrClause:
		return "asr_clause"
	default:
		return "unknown"
	}
}

// Frame is the per-20ms-frame input to the FSM.
type Frame struct {
	GlobalStart uint64
	Voiced      bool
	At          time.Time
}

// AsrProposal is a candidate clause boundary surfaced by the ASR pool.
// SegmentID names the segment the underlying audio was submitted for, so a
// proposal that arrives after that segment has already closed some other
// way (silence, max length) can still be routed to it as a late transcript
// instead of being evaluated against whatever segment happens to be open
// when the proposal comes back.
type AsrProposal struct {
	SegmentID    uint64
	ClauseEndIdx uint64
	Text         string
	Confidence   float32
}

// Event is a boundary decision emitted by the FSM.
type Event struct {
	Start, End uint64
	Reason     CloseReason
	Text       string // only set for ReasonAsrClause
}

// Config tunes the FSM's thresholds; see spec.md §6 for the CLI/flag names
// these are bound to. OpenVoicedFrames is carried here but ProcessFrame does
// not read it: a segment opens when the voiced score reaches openThreshold.
type Config struct {
	OpenVoicedFrames  int
	CloseSilenceMs    int64
	MaxTurnMs         int64
	MinClauseTokens   int
	PermissiveClauses bool
	SampleRate        int
}

// DefaultConfig matches original_source/src/audio_seg.rs's SegConfig defaults.
func DefaultConfig() Config {
	return Config{
		OpenVoicedFrames: 6,
		CloseSilenceMs:   300,
		MaxTurnMs:        5000,
		MinClauseTokens:  4,
		SampleRate:       16000,
	}
}

// openThreshold is the voiced-score value that must be reached to open a
// segment: with 0.75 decay, the fifth consecutive voiced frame lifts the
// score from 0 to about 3.05, so five voiced frames open a segment.
const openThreshold = 3.0

const (
	freshPreRollSamples   = 8000 // 500ms at 16kHz
	reopenPreRollSamples  = 1600 // 100ms at 16kHz
)

// FSM holds the mutable boundary-detection state. It is not safe for
// concurrent use; the pipeline drives it from a single goroutine.
type FSM struct {
	cfg         Config
	state       State
	voicedScore float32

	segStart     uint64
	lastVoiceIdx uint64
	startedAt    time.Time
}

// New creates an FSM in the Idle state.
func New(cfg Config) *FSM {
	return &FSM{cfg: cfg, state: Idle}
}

// State returns the FSM's current stable state.
func (f *FSM) State() State {
	return f.state
}

// CurrentSegmentStart returns the open segment's start index, if any.
func (f *FSM) CurrentSegmentStart() (uint64, bool) {
	if f.state == Recording || f.state == Committing {
		return f.segStart, true
	}
	return 0, false
}

// ProcessFrame updates the voiced-score and transitions state. It returns
// at most one Event, matching the Rust original's one-event-per-frame
// contract.
func (f *FSM) ProcessFrame(frame Frame, currentGlobalIdx uint64) (Event, bool) {
	if frame.Voiced {
		f.voicedScore = f.voicedScore*0.75 + 1.0
	} else {
		f.voicedScore = f.voicedScore * 0.75
	}

	now := frame.At
	if now.IsZero() {
		now = time.Now()
	}

	switch f.state {
	case Idle:
		if f.voicedScore >= openThreshold {
			f.segStart = saturatingSub(frame.GlobalStart, freshPreRollSamples)
			f.lastVoiceIdx = frame.GlobalStart
			f.startedAt = now
			f.state = Recording
		}
		return Event{}, false

	case Recording:
		if frame.Voiced {
			f.lastVoiceIdx = frame.GlobalStart
		}

		elapsedMs := now.Sub(f.startedAt).Milliseconds()
		silenceSamples := saturatingSub(currentGlobalIdx, f.lastVoiceIdx)
		silenceMs := int64(silenceSamples) * 1000 / int64(f.cfg.SampleRate)

		var ev Event
		var closed bool
		switch {
		case elapsedMs >= f.cfg.MaxTurnMs:
			ev = Event{Start: f.segStart, End: currentGlobalIdx, Reason: ReasonMaxLength}
			closed = true
		case silenceMs >= f.cfg.CloseSilenceMs:
			ev = Event{Start: f.segStart, End: currentGlobalIdx, Reason: ReasonSilence}
			closed = true
		}

		if closed {
			f.state = Idle
			f.voicedScore = 0
			return ev, true
		}
		return Event{}, false

	case Committing:
		if f.voicedScore >= openThreshold {
			f.segStart = saturatingSub(frame.GlobalStart, reopenPreRollSamples)
			f.lastVoiceIdx = frame.GlobalStart
			f.startedAt = now
			f.state = Recording
		}
		return Event{}, false
	}

	return Event{}, false
}

// HandleAsrProposal applies an ASR-surfaced clause boundary. It only takes
// effect while Recording, for the currently open segment, and only if the
// clause text passes IsValidClause. On success it emits a close event and
// moves to Committing so trailing audio in the same physical turn isn't
// lost.
func (f *FSM) HandleAsrProposal(p AsrProposal, currentGlobalIdx uint64) (Event, bool) {
	if f.state != Recording {
		return Event{}, false
	}
	if !(p.ClauseEndIdx > f.segStart && p.ClauseEndIdx < currentGlobalIdx) {
		return Event{}, false
	}
	if !f.IsValidClause(p.Text) {
		return Event{}, false
	}

	ev := Event{Start: f.segStart, End: p.ClauseEndIdx, Reason: ReasonAsrClause, Text: p.Text}

	f.state = Committing
	f.segStart = p.ClauseEndIdx
	f.lastVoiceIdx = p.ClauseEndIdx
	f.startedAt = time.Now()

	return ev, true
}

// IsValidClause decides whether partial ASR text is a complete-enough
// clause to close a segment on. The strict variant (default) accepts
// sentence-ending punctuation or a token-count threshold; the permissive
// variant additionally accepts trailing commas/dashes and conjunctions,
// matching the relaxation the Rust original commented out.
func (f *FSM) IsValidClause(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}

	if strings.ContainsAny(t[len(t)-1:], ".?!;") {
		return true
	}

	if len(strings.Fields(t)) >= f.cfg.MinClauseTokens {
		return true
	}

	if !f.cfg.PermissiveClauses {
		return false
	}

	last := t[len(t)-1:]
	if last == "," || last == "-" {
		return true
	}
	if strings.HasSuffix(t, " and") || strings.HasSuffix(t, " but") || strings.HasSuffix(t, " because") {
		return true
	}
	return strings.Contains(t, " because ")
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
