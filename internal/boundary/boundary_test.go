package boundary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func frameAt(globalStart uint64, voiced bool, at time.Time) Frame {
	return Frame{GlobalStart: globalStart, Voiced: voiced, At: at}
}

func TestIdleOpensAfterEnoughVoicedFrames(t *testing.T) {
	f := New(DefaultConfig())
	base := time.Now()

	var opened bool
	idx := uint64(0)
	for i := 0; i < 10 && !opened; i++ {
		_, closedEv := f.ProcessFrame(frameAt(idx, true, base.Add(time.Duration(i)*20*time.Millisecond)), idx+320)
		assert.False(t, closedEv, "opening transitions never emit a close event")
		if f.State() == Recording {
			opened = true
		}
		idx += 320
	}

	assert.True(t, opened, "six consecutive voiced frames must open a segment")
}

func TestSilenceClosesAfterConfiguredDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CloseSilenceMs = 300
	f := New(cfg)
	base := time.Now()
	idx := uint64(0)

	// Open the segment.
	for i := 0; i < 8; i++ {
		f.ProcessFrame(frameAt(idx, true, base.Add(time.Duration(i)*20*time.Millisecond)), idx+320)
		idx += 320
	}
	if f.State() != Recording {
		t.Fatal("expected segment to be open before testing silence close")
	}

	// Feed silence until the configured duration elapses.
	var gotEvent Event
	var closed bool
	for i := 0; i < 50 && !closed; i++ {
		ev, ok := f.ProcessFrame(frameAt(idx, false, base.Add(time.Duration(i)*20*time.Millisecond)), idx+320)
		if ok {
			gotEvent = ev
			closed = true
		}
		idx += 320
	}

	assert.True(t, closed, "sustained silence must eventually close the segment")
	assert.Equal(t, ReasonSilence, gotEvent.Reason)
	assert.Equal(t, Idle, f.State())
}

func TestIsValidClauseStrictRejectsShortFragments(t *testing.T) {
	f := New(DefaultConfig())
	assert.False(t, f.IsValidClause("um,"))
	assert.False(t, f.IsValidClause("so and"))
	assert.True(t, f.IsValidClause("That's the whole plan."))
	assert.True(t, f.IsValidClause("one two three four")) // 4 tokens meets MinClauseTokens
}

func TestIsValidClausePermissiveAcceptsDisfluencies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PermissiveClauses = true
	f := New(cfg)
	assert.True(t, f.IsValidClause("well,"))
	assert.True(t, f.IsValidClause("so and"))
	assert.True(t, f.IsValidClause("I think because"))
}

func TestRapidBoundaryNeverEmitsMoreThanOneEventPerFrame(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := New(DefaultConfig())
		base := time.Now()
		idx := uint64(0)

		frameCount := rapid.IntRange(1, 200).Draw(t, "frames")
		for i := 0; i < frameCount; i++ {
			voiced := rapid.Bool().Draw(t, "voiced")
			_, ok := f.ProcessFrame(frameAt(idx, voiced, base.Add(time.Duration(i)*20*time.Millisecond)), idx+320)
			// ProcessFrame's signature already enforces at most one event
			// per call; this check just documents the invariant the type
			// guarantees rather than re-deriving it.
			_ = ok
			idx += 320
		}
	})
}
