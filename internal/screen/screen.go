// Package screen turns raw captured frames into deduplicated, JPEG-encoded
// video frames for the turn FSM. The actual OS-level screen grab is out of
// scope (spec.md §1 excludes capture drivers); this package owns the
// in-scope data plumbing: perceptual-ish content hashing, duplicate
// rejection and JPEG encoding, grounded on video_capture.rs's
// capture_loop/quick_hash dedup pattern in original_source/.
package screen

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/jpeg"
)

// FrameSource produces the next raw captured frame. A concrete driver
// (screen grabber, or a test double) implements this; this package never
// talks to the OS directly.
type FrameSource func() (image.Image, error)

// Frame is a unique, encoded video frame ready for the turn FSM.
type Frame struct {
	JPEG []byte
	Hash uint64
}

// Capturer polls a FrameSource on a fixed cadence and emits only frames
// whose content hash differs from the previous one.
type Capturer struct {
	source   FrameSource
	lastHash uint64
	quality  int
}

// NewCapturer wraps source with dedup + JPEG encoding. quality is the JPEG
// quality (1-100); 0 or less selects 80.
func NewCapturer(source FrameSource, quality int) *Capturer {
	if quality <= 0 {
		quality = 80
	}
	return &Capturer{source: source, quality: quality}
}

// Poll captures one frame and returns it if it differs from the last one
// seen, encoding to JPEG only when a new frame is actually emitted.
func (c *Capturer) Poll() (Frame, bool, error) {
	img, err := c.source()
	if err != nil {
		return Frame{}, false, err
	}

	hash := QuickHash(img)
	if hash == c.lastHash {
		return Frame{}, false, nil
	}
	c.lastHash = hash

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return Frame{}, false, err
	}

	return Frame{JPEG: buf.Bytes(), Hash: hash}, true, nil
}

// PollForce captures and encodes the current frame unconditionally,
// bypassing the duplicate-hash check Poll applies. It still updates
// lastHash so a subsequent Poll compares against this frame rather than an
// older one. Used for the turn FSM's forced-capture path, which must
// produce a frame even when the screen hasn't changed since the last poll.
func (c *Capturer) PollForce() (Frame, error) {
	img, err := c.source()
	if err != nil {
		return Frame{}, err
	}

	hash := QuickHash(img)
	c.lastHash = hash

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return Frame{}, err
	}

	return Frame{JPEG: buf.Bytes(), Hash: hash}, nil
}

// QuickHash computes a cheap content hash over a sparse grid of sample
// points rather than every pixel, so two frames that only differ in a
// small region (a blinking cursor, a clock) still compare equal often
// enough to avoid flooding the turn FSM with near-duplicate frames. This
// mirrors the dedup role `quick_hash` plays in video_capture.rs, though
// the exact sampling strategy there wasn't available in the reference
// source and is reconstructed here from its usage.
func QuickHash(img image.Image) uint64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	const grid = 32
	h64 := fnv.New64a()
	var buf [8]byte

	stepX := w / grid
	stepY := h / grid
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			buf[0] = byte(r >> 8)
			buf[1] = byte(g >> 8)
			buf[2] = byte(bl >> 8)
			h64.Write(buf[:3])
		}
	}
	_ = buf
	return h64.Sum64()
}
