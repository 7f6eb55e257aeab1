package audio

// MicWeight and MonitorWeight are the fixed blend weights applied when
// AudioSource is "mixed": the microphone dominates so the user's own
// speech stays intelligible over whatever the system is playing back,
// while the system monitor stream still contributes enough to be heard
// by the remote model. Grounded on the same 7:3 mic/monitor ratio the
// original mixed-capture mode uses in original_source/src/audio_capture.rs.
const (
	MicWeight     = 0.7
	MonitorWeight = 0.3
)

// Mix blends two equal-length int16 PCM buffers at the fixed mic/monitor
// ratio, clamping to avoid wraparound. mic and monitor must be the same
// length; Mix panics otherwise, since callers are expected to align both
// streams to the same frame size before mixing.
func Mix(mic, monitor []int16) []int16 {
	if len(mic) != len(monitor) {
		panic("audio: Mix requires equal-length buffers")
	}

	out := make([]int16, len(mic))
	for i := range mic {
		v := float64(mic[i])*MicWeight + float64(monitor[i])*MonitorWeight
		out[i] = clampInt16(v)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
