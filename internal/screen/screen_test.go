package screen

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCapturerEmitsFirstFrameAndSkipsIdenticalFollowups(t *testing.T) {
	frames := []image.Image{
		solidImage(color.RGBA{R: 10, G: 10, B: 10, A: 255}),
		solidImage(color.RGBA{R: 10, G: 10, B: 10, A: 255}),
	}
	i := 0
	c := NewCapturer(func() (image.Image, error) {
		img := frames[i]
		if i < len(frames)-1 {
			i++
		}
		return img, nil
	}, 80)

	f1, ok, err := c.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, f1.JPEG)

	_, ok, err = c.Poll()
	require.NoError(t, err)
	assert.False(t, ok, "an identical subsequent frame must be deduplicated")
}

func TestCapturerEmitsOnContentChange(t *testing.T) {
	colors := []color.Color{
		color.RGBA{R: 10, G: 10, B: 10, A: 255},
		color.RGBA{R: 250, G: 5, B: 5, A: 255},
	}
	i := 0
	c := NewCapturer(func() (image.Image, error) {
		img := solidImage(colors[i])
		if i < len(colors)-1 {
			i++
		}
		return img, nil
	}, 80)

	_, ok, err := c.Poll()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Poll()
	require.NoError(t, err)
	assert.True(t, ok, "a visibly different frame must not be deduplicated")
}

func TestPollForceIgnoresDuplicateHash(t *testing.T) {
	img := solidImage(color.RGBA{R: 10, G: 10, B: 10, A: 255})
	c := NewCapturer(func() (image.Image, error) {
		return img, nil
	}, 80)

	_, ok, err := c.Poll()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Poll()
	require.NoError(t, err)
	require.False(t, ok, "second poll of an unchanged screen must dedupe")

	forced, err := c.PollForce()
	require.NoError(t, err)
	assert.NotEmpty(t, forced.JPEG, "a forced poll must emit a frame even on an unchanged screen")
}

func TestCapturerPropagatesSourceError(t *testing.T) {
	c := NewCapturer(func() (image.Image, error) {
		return nil, errors.New("capture failed")
	}, 80)

	_, _, err := c.Poll()
	assert.Error(t, err)
}

func TestQuickHashStableForIdenticalImages(t *testing.T) {
	a := solidImage(color.RGBA{R: 1, G: 2, B: 3, A: 255})
	b := solidImage(color.RGBA{R: 1, G: 2, B: 3, A: 255})
	assert.Equal(t, QuickHash(a), QuickHash(b))
}
