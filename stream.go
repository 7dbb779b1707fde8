// stream.go
package timestretch

import (
	"math"
)

// Stream wraps a Stretcher with a block-streaming API for forward playback:
// push arbitrarily sized blocks of planar input audio and receive
// contiguous, non-overlapping output audio. The stream converts each
// Process call into the necessary sequence of grain operations, keeps
// per-channel buffer views consistent across grain boundaries, and tracks
// cumulative input/output positions and the engine's warm-up latency.
//
// A Stream performs no locking; hand it to one goroutine at a time.
type Stream struct {
	stretcher *Stretcher
	channels  int
	maxBlock  int // largest input block a single Process call may carry
	maxInput  int // engine's input chunk bound

	// Input history ring. Grains overlap and may look behind the current
	// block, so recent input is retained; frames are addressed by absolute
	// position modulo ringCap. Planar, stride ringCap.
	ring    []float32
	ringCap int
	ringEnd int64 // one past the newest stored frame
	realEnd int64 // one past the newest real (non-mute) input frame

	request   Request
	prerolled bool

	// Grain scratch buffers, planar with stride maxInput, rebuilt from the
	// caller's channel buffers every call and never retained past it.
	grainIn    []float32
	grainOut   []float32
	pendingOff int // undelivered grain output in grainOut
	pendingLen int

	inputPos  int64
	outputPos float64
	ditherErr float64

	latencySkip    int
	latencySkipSet bool

	closed bool
}

// NewStream creates a stream around a Basic-edition stretcher.
// maxInputFrameCount is the largest number of input frames a single Process
// call will carry; it fixes the size of the stream's history window.
func NewStream(sampleRate, channels, maxInputFrameCount int) (*Stream, error) {
	if maxInputFrameCount <= 0 {
		return nil, mapError(ErrBadFrameCount)
	}
	stretcher, err := NewStretcher(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return NewStreamStretcher(stretcher, maxInputFrameCount)
}

// NewStreamStretcher creates a stream around an existing stretcher, taking
// ownership of it. The stretcher must not have processed any grains yet.
func NewStreamStretcher(stretcher *Stretcher, maxInputFrameCount int) (*Stream, error) {
	if maxInputFrameCount <= 0 {
		return nil, mapError(ErrBadFrameCount)
	}
	maxInput := stretcher.MaxInputFrameCount()
	channels := stretcher.Channels()
	ringCap := 2*maxInput + maxInputFrameCount
	return &Stream{
		stretcher: stretcher,
		channels:  channels,
		maxBlock:  maxInputFrameCount,
		maxInput:  maxInput,
		ring:      make([]float32, ringCap*channels),
		ringCap:   ringCap,
		grainIn:   make([]float32, maxInput*channels),
		grainOut:  make([]float32, maxInput*channels),
		request:   Request{Speed: 1.0, Pitch: 1.0},
	}, nil
}

// SampleRates returns the underlying stretcher's sample rates.
func (s *Stream) SampleRates() SampleRates { return s.stretcher.SampleRates() }

// Channels returns the stream's channel count.
func (s *Stream) Channels() int { return s.channels }

// Process pushes one block of audio through the stretcher. It returns the
// number of output frames rendered into outputChannels, which is floor or
// ceil of outputFrameCount depending on the stream's dithering of the
// fractional frame budget, and never more than ceil(outputFrameCount).
//
// inputChannels holds one buffer per channel, or is nil for mute input
// (used for flush tails). outputChannels must hold one buffer per channel
// with space for ceil(outputFrameCount) frames. Violating these
// preconditions indicates caller misuse and panics.
func (s *Stream) Process(inputChannels, outputChannels [][]float32, inputFrameCount int, outputFrameCount, pitch float64) int {
	s.checkOpen()
	assertf(inputFrameCount > 0,
		"invalid input frame count: got %d frames, but need frames > 0", inputFrameCount)
	assertf(inputFrameCount <= s.maxBlock,
		"input frame count %d exceeds the stream's block limit %d", inputFrameCount, s.maxBlock)
	assertf(outputFrameCount > 0,
		"invalid output frame count: got %v frames, but need frames > 0", outputFrameCount)

	if inputChannels != nil {
		assertf(len(inputChannels) == s.channels,
			"input channel count %d must match stream channel count %d", len(inputChannels), s.channels)
		for ch, samples := range inputChannels {
			assertf(len(samples) >= inputFrameCount,
				"input channel[%d] holds %d samples, less than input frame count %d",
				ch, len(samples), inputFrameCount)
		}
	}
	required := int(math.Ceil(outputFrameCount))
	assertf(len(outputChannels) == s.channels,
		"output channel count %d must match stream channel count %d", len(outputChannels), s.channels)
	for ch, samples := range outputChannels {
		assertf(len(samples) >= required,
			"output channel[%d] holds %d samples, less than required output frame count %d",
			ch, len(samples), required)
	}

	s.appendBlock(inputChannels, inputFrameCount)

	frameTarget := s.ditherFrameCount(outputFrameCount)
	speed := float64(inputFrameCount) / outputFrameCount
	s.request.Speed = speed
	s.request.Pitch = pitch

	if !s.prerolled {
		s.request.Position = 0
		s.request.Reset = true
		s.request = s.stretcher.Preroll(s.request)
		s.prerolled = true
	}

	written := s.drainPending(outputChannels, 0, frameTarget)
	for written < frameTarget {
		s.runGrain(inputChannels == nil)
		written += s.drainPending(outputChannels, written, frameTarget)
	}

	s.outputPos += float64(frameTarget) * speed
	if !s.latencySkipSet {
		s.latencySkip = int(s.stretcher.Latency() / speed)
		s.latencySkipSet = true
	}
	return frameTarget
}

// InputPosition is the current position in the input stream: the exact sum
// of inputFrameCount over all Process calls.
func (s *Stream) InputPosition() int64 {
	s.checkOpen()
	return s.inputPos
}

// OutputPosition is the current position of the output stream in terms of
// input frames. Monotonic, fractional.
func (s *Stream) OutputPosition() float64 {
	s.checkOpen()
	return s.outputPos
}

// Latency reports the stretcher's latency in input-frame units. It may
// change when the stream's settings change.
func (s *Stream) Latency() float64 {
	s.checkOpen()
	return s.stretcher.Latency()
}

// SkipLatency consumes the stream's warm-up budget against a block of
// produced frames: it returns how many leading frames of the block are
// pipeline warm-up that a caller should discard so that the first real
// output sample lands at frame zero of musical output. The budget is
// computed once, from the latency reported after the first Process call.
func (s *Stream) SkipLatency(produced int) int {
	s.checkOpen()
	assertf(produced >= 0, "produced frame count must be >= 0, got %d", produced)
	if !s.latencySkipSet {
		return 0
	}
	skip := produced
	if s.latencySkip < skip {
		skip = s.latencySkip
	}
	s.latencySkip -= skip
	return skip
}

// IsFlushed reports the underlying controller's flush state: true once the
// mute-input flush tail has fully drained the pipeline.
func (s *Stream) IsFlushed() bool {
	s.checkOpen()
	return s.stretcher.IsFlushed()
}

// Close releases the underlying stretcher (and with it the engine) exactly
// once. Further Process calls panic; a second Close is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.ring = nil
	s.grainIn = nil
	s.grainOut = nil
	return s.stretcher.Close()
}

func (s *Stream) checkOpen() {
	assertf(!s.closed, "stream used after Close")
}

// appendBlock copies one block into the history ring. Mute blocks advance
// the positions but store silence and leave realEnd untouched.
func (s *Stream) appendBlock(inputChannels [][]float32, frameCount int) {
	base := s.ringEnd
	for ch := 0; ch < s.channels; ch++ {
		ring := s.ring[ch*s.ringCap:][:s.ringCap]
		for i := 0; i < frameCount; i++ {
			idx := int((base + int64(i)) % int64(s.ringCap))
			if inputChannels != nil {
				ring[idx] = inputChannels[ch][i]
			} else {
				ring[idx] = 0
			}
		}
	}
	s.ringEnd += int64(frameCount)
	s.inputPos += int64(frameCount)
	if inputChannels != nil {
		s.realEnd = s.ringEnd
	}
}

// runGrain drives one full grain through the controller and stages its
// output for delivery.
func (s *Stream) runGrain(mute bool) {
	// Once muted input has carried the grain window entirely past the last
	// real frame, switch to flush-only grains so the pipeline can drain.
	if mute && !s.request.IsFlushGrain() &&
		s.request.Position-float64(s.maxInput)/2 >= float64(s.realEnd) {
		s.request.Position = math.NaN()
	}

	chunk := s.stretcher.SpecifyGrain(s.request)
	frameCount := chunk.FrameCount()
	muteHead, muteTail := 0, 0
	if frameCount > 0 {
		muteHead = clampInt(-chunk.Begin, 0, frameCount)
		if tail := int64(chunk.End) - s.realEnd; tail > 0 {
			muteTail = clampInt(int(tail), 0, frameCount-muteHead)
		}
		s.gather(chunk)
	}
	s.stretcher.AnalyseGrain(s.grainIn, s.maxInput, muteHead, muteTail)

	out := OutputChunk{Data: s.grainOut, ChannelStride: s.maxInput}
	s.stretcher.SynthesiseGrain(&out)
	s.pendingOff = 0
	s.pendingLen = out.FrameCount

	s.request = s.stretcher.Next(s.request)
}

// gather copies the chunk's frame range from the history ring into the
// grain input scratch, substituting silence outside [0, realEnd).
func (s *Stream) gather(chunk InputChunk) {
	oldest := s.ringEnd - int64(s.ringCap)
	needOldest := int64(chunk.Begin)
	if needOldest < 0 {
		needOldest = 0
	}
	assertf(needOldest >= oldest,
		"grain input at frame %d fell out of the stream's history window", chunk.Begin)

	frameCount := chunk.FrameCount()
	for ch := 0; ch < s.channels; ch++ {
		ring := s.ring[ch*s.ringCap:][:s.ringCap]
		dst := s.grainIn[ch*s.maxInput:][:s.maxInput]
		for i := 0; i < frameCount; i++ {
			f := int64(chunk.Begin + i)
			if f < 0 || f >= s.realEnd {
				dst[i] = 0
			} else {
				dst[i] = ring[int(f%int64(s.ringCap))]
			}
		}
	}
}

// drainPending delivers staged grain output into the caller's planar
// buffers, returning the number of frames copied.
func (s *Stream) drainPending(outputChannels [][]float32, written, frameTarget int) int {
	count := frameTarget - written
	if count > s.pendingLen {
		count = s.pendingLen
	}
	if count <= 0 {
		return 0
	}
	for ch := 0; ch < s.channels; ch++ {
		src := s.grainOut[ch*s.maxInput+s.pendingOff:]
		copy(outputChannels[ch][written:written+count], src[:count])
	}
	s.pendingOff += count
	s.pendingLen -= count
	return count
}

// ditherFrameCount converts the fractional output budget into a whole frame
// count using error feedback: the rounding residual carries into the next
// call, so long runs do not drift, and a single call never produces more
// than ceil(outputFrameCount) frames.
func (s *Stream) ditherFrameCount(outputFrameCount float64) int {
	frames := int(math.Round(outputFrameCount + s.ditherErr))
	frames = clampInt(frames,
		int(math.Floor(outputFrameCount)), int(math.Ceil(outputFrameCount)))
	s.ditherErr += outputFrameCount - float64(frames)
	if s.ditherErr > 0.5 {
		s.ditherErr = 0.5
	} else if s.ditherErr < -0.5 {
		s.ditherErr = -0.5
	}
	return frames
}
