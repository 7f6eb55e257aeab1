package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMixWeightsMicOverMonitor(t *testing.T) {
	mic := []int16{10000, -10000, 0}
	monitor := []int16{0, 0, 10000}

	out := Mix(mic, monitor)
	assert.Equal(t, int16(7000), out[0])
	assert.Equal(t, int16(-7000), out[1])
	assert.Equal(t, int16(3000), out[2])
}

func TestMixClampsOnOverflow(t *testing.T) {
	mic := []int16{32767}
	monitor := []int16{32767}

	out := Mix(mic, monitor)
	assert.Equal(t, int16(32767), out[0])
}

func TestMixPanicsOnLengthMismatch(t *testing.T) {
	assert.Panics(t, func() {
		Mix([]int16{1, 2}, []int16{1})
	})
}
