// Package audio captures microphone (and, in mixed mode, system monitor)
// audio via malgo and feeds int16 PCM frames into the turn pipeline.
// Grounded on Capturer in the teacher's internal/audio/capture.go; adapted
// to emit int16 PCM at a fixed target rate instead of float32 (spec.md's
// audio turns carry PCM16), and to support an independent loopback/monitor
// stream that mixer.go blends with the microphone at a fixed ratio for
// "mixed" audio sourcing.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/silent-copilot/internal/logging"
)

// ringBufferSize is the number of sample chunks the capture ring buffer
// can hold. At 16kHz with 32ms chunks (512 samples), this provides ~4
// seconds of headroom between the audio callback and the consumer
// goroutine.
const ringBufferSize = 128

// maxSamplesPerChunk bounds a single callback's chunk size.
const maxSamplesPerChunk = 2048

type audioChunk struct {
	samples []float32
	len     int
}

// ringBuffer is a lock-free single-producer/single-consumer ring buffer
// that decouples the malgo audio callback from the consumer goroutine. It
// is a transport detail private to this package, unrelated to the
// addressable sample history kept by internal/ring.
type ringBuffer struct {
	chunks    [ringBufferSize]audioChunk
	head      atomic.Uint64
	tail      atomic.Uint64
	dropCount atomic.Uint64
}

func newRingBuffer() *ringBuffer {
	rb := &ringBuffer{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

func (rb *ringBuffer) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head-tail >= ringBufferSize {
		count := rb.dropCount.Add(1)
		if count%100 == 0 {
			logging.Default().Warn("audio capture ring buffer full", "dropped", count)
		}
		return false
	}
	slot := &rb.chunks[head%ringBufferSize]
	n := copy(slot.samples, samples)
	slot.len = n
	rb.head.Add(1)
	return true
}

func (rb *ringBuffer) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return nil
	}
	slot := &rb.chunks[tail%ringBufferSize]
	samples := slot.samples[:slot.len]
	rb.tail.Add(1)
	return samples
}

// Capturer drives one malgo capture device (the default input device) and
// forwards converted int16 PCM to onSamples from a dedicated
// consumer goroutine, keeping the audio callback itself allocation-light
// and non-blocking.
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32
	deviceSampleRate uint32
	loopback         bool
	onSamples        func(samples []int16)
	running          atomic.Bool
	ringBuf          *ringBuffer
	stopChan         chan struct{}
	wg               sync.WaitGroup
	resampler        *PolyphaseResampler
}

// NewCapturer creates a capturer for the default input device. The
// loopback flag is stored on the Capturer, but Start does not read it:
// every Capturer opens the default capture device, and no playback-monitor
// device is selected.
func NewCapturer(sampleRate int, loopback bool, onSamples func(samples []int16)) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: failed to initialize context: %w", err)
	}

	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		loopback:   loopback,
		onSamples:  onSamples,
		ringBuf:    newRingBuffer(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins capture from the configured device.
func (c *Capturer) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	tempDevice, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("audio: failed to query capture device: %w", err)
	}
	c.deviceSampleRate = tempDevice.SampleRate()
	tempDevice.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		if c.deviceSampleRate > c.sampleRate {
			c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
			logging.Default().Info("audio resampling", "from", c.deviceSampleRate, "to", c.sampleRate, "method", "polyphase")
		} else {
			logging.Default().Info("audio resampling", "from", c.deviceSampleRate, "to", c.sampleRate, "method", "linear")
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		samples := bytesToFloat32(pInputSamples)
		if len(samples) > 0 {
			c.ringBuf.push(samples)
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("audio: failed to initialize capture device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	c.wg.Add(1)
	go c.processLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("audio: failed to start capture device: %w", err)
	}
	return nil
}

// processLoop drains the ring buffer, resamples, converts to int16, and
// calls onSamples. Runs on a dedicated goroutine separate from the audio
// callback thread.
func (c *Capturer) processLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		samples := c.ringBuf.pop()
		if samples == nil {
			select {
			case <-c.stopChan:
				return
			case <-time.After(100 * time.Microsecond):
			}
			continue
		}

		samplesCopy := make([]float32, len(samples))
		copy(samplesCopy, samples)

		if c.resampler != nil {
			samplesCopy = c.resampler.Resample(samplesCopy)
		} else if c.deviceSampleRate != 0 && c.deviceSampleRate != c.sampleRate {
			samplesCopy = ResampleInPlace(samplesCopy, int(c.deviceSampleRate), int(c.sampleRate))
		}

		if c.onSamples != nil {
			c.onSamples(floatToInt16(samplesCopy))
		}
	}
}

// Stop halts capture and releases the device, but keeps the malgo context
// alive so Start can be called again.
func (c *Capturer) Stop() {
	c.running.Store(false)
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Close stops capture and releases the malgo context entirely.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func floatToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		s := v * 32768
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i] = int16(s)
	}
	return out
}
