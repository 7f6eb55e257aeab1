// Package segment turns boundary-FSM close events into emitted audio
// segments, in strictly ascending id order, pulling PCM out of the ring
// buffer only once a segment is ready to leave. Grounded on SegmentEmitter
// in original_source/src/audio_seg.rs.
package segment

import (
	"time"

	"github.com/agalue/silent-copilot/internal/boundary"
	"github.com/agalue/silent-copilot/internal/logging"
	"github.com/agalue/silent-copilot/internal/ring"
)

// Turn is a fully committed, ready-to-dispatch audio segment.
type Turn struct {
	ID          uint64
	Audio       []int16
	CloseReason boundary.CloseReason
	Text        string
	HasText     bool
}

type commit struct {
	id        uint64
	start     uint64
	end       uint64
	reason    boundary.CloseReason
	text      string
	hasText   bool
	createdAt time.Time
}

// Emitter holds commits not yet safe to emit (ids must leave in strict
// ascending order so downstream consumers never see a gap) and pulls PCM
// out of the ring buffer lazily, right before emission.
type Emitter struct {
	ringBuf       *ring.Buffer
	asrTimeout    time.Duration
	pending       map[uint64]*commit
	nextEmitID    uint64
	ready         []Turn
}

// New creates an emitter starting at segment id 1.
func New(ringBuf *ring.Buffer, asrTimeout time.Duration) *Emitter {
	return &Emitter{
		ringBuf:    ringBuf,
		asrTimeout: asrTimeout,
		pending:    make(map[uint64]*commit),
		nextEmitID: 1,
	}
}

// Commit records a boundary-FSM close event under the given segment id.
func (e *Emitter) Commit(id uint64, ev boundary.Event) {
	c := &commit{
		id:        id,
		start:     ev.Start,
		end:       ev.End,
		reason:    ev.Reason,
		createdAt: time.Now(),
	}
	if ev.Reason == boundary.ReasonAsrClause {
		c.text = ev.Text
		c.hasText = true
	}
	e.pending[id] = c
	e.tryEmitReady()
}

// AddTranscript attaches a late-arriving transcript to an already
// committed (but not yet emitted) segment.
func (e *Emitter) AddTranscript(id uint64, text string) {
	c, ok := e.pending[id]
	if !ok || c.hasText {
		return
	}
	c.text = text
	c.hasText = true
	e.tryEmitReady()
}

// tryEmitReady walks pending commits starting at nextEmitID, emitting each
// one once it's either got a transcript, isn't waiting on one (an
// AsrClause commit always arrives with text already attached), or has
// waited past asrTimeout — and always in strict ascending id order, so a
// slow id never lets a later one jump ahead of it.
func (e *Emitter) tryEmitReady() {
	log := logging.Default()
	for {
		c, ok := e.pending[e.nextEmitID]
		if !ok {
			return
		}

		waitingOnTranscript := !c.hasText && c.reason != boundary.ReasonAsrClause
		if waitingOnTranscript && time.Since(c.createdAt) < e.asrTimeout {
			return
		}

		delete(e.pending, e.nextEmitID)

		pcm, available := e.ringBuf.GetRange(c.start, c.end)
		if !available {
			log.Warn("segment audio no longer available in ring buffer", "id", c.id)
			e.nextEmitID++
			continue
		}

		e.ready = append(e.ready, Turn{
			ID:          c.id,
			Audio:       pcm,
			CloseReason: c.reason,
			Text:        c.text,
			HasText:     c.hasText,
		})
		e.nextEmitID++
	}
}

// Pop returns and removes the next ready turn, or ok=false if none is
// ready yet.
func (e *Emitter) Pop() (Turn, bool) {
	e.tryEmitReady()
	if len(e.ready) == 0 {
		return Turn{}, false
	}
	t := e.ready[0]
	e.ready = e.ready[1:]
	return t, true
}
