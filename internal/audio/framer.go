package audio

// FrameSize is the canonical frame length the VAD/boundary/ring stack
// expects: 20ms at 16kHz. Captured chunks never arrive at this size — a
// malgo callback period is ~32ms, and upstream resampling changes the
// sample count further — so every captured chunk must pass through a
// Framer before it reaches vad.Detector.IsVoiced.
const FrameSize = 320

// Framer accumulates arbitrary-length captured sample chunks and re-slices
// them into fixed FrameSize frames, carrying any leftover samples forward
// to the next Push. Not safe for concurrent use; each capture stream
// (microphone, loopback monitor) owns its own Framer.
type Framer struct {
	buf []int16
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends samples to the accumulator and returns zero or more
// complete FrameSize frames, retaining any remainder for the next call.
func (f *Framer) Push(samples []int16) [][]int16 {
	f.buf = append(f.buf, samples...)

	var frames [][]int16
	for len(f.buf) >= FrameSize {
		frame := make([]int16, FrameSize)
		copy(frame, f.buf[:FrameSize])
		frames = append(frames, frame)
		f.buf = append([]int16(nil), f.buf[FrameSize:]...)
	}
	return frames
}
