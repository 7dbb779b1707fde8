// stretcher.go
package timestretch

import "math"

// grainPhase tracks progress through the grain protocol state machine:
// Uninitialized -> Prerolled -> [Specified -> Analysed -> Synthesised ->
// Advanced]* with flushing reached by feeding NaN-position grains until
// IsFlushed reports true.
type grainPhase int

const (
	phaseUninitialized grainPhase = iota
	phasePrerolled
	phaseSpecified
	phaseAnalysed
	phaseSynthesised
	phaseAdvanced
	phaseClosed
)

func (p grainPhase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phasePrerolled:
		return "prerolled"
	case phaseSpecified:
		return "specified"
	case phaseAnalysed:
		return "analysed"
	case phaseSynthesised:
		return "synthesised"
	case phaseAdvanced:
		return "advanced"
	case phaseClosed:
		return "closed"
	}
	return "unknown"
}

// Stretcher owns one Engine instance and exposes the position-based grain
// request protocol: preroll, specify the required input range, feed input,
// retrieve output, advance, query flush state.
//
// Operations must follow the protocol order; calling a grain operation out
// of sequence is a caller bug and panics, since the engine's internal state
// would be undefined afterwards.
type Stretcher struct {
	engine   Engine
	rates    SampleRates
	channels int
	phase    grainPhase
	chunk    InputChunk // last specified grain's input range
}

// NewStretcher creates and initializes a stretcher with equal input and
// output sample rates, the Basic edition engine and no synthesis hop
// adjustment, matching the original wrapper's defaults.
func NewStretcher(sampleRate, channels int) (*Stretcher, error) {
	return NewStretcherRates(EditionBasic, SampleRates{Input: sampleRate, Output: sampleRate}, channels, 0)
}

// NewStretcherRates creates a stretcher with full control over the engine
// edition, sample rates and synthesis hop adjustment. Configuration errors
// (invalid rates or channel count, unavailable edition, engine allocation
// failure) are reported here and are not recoverable later: no partial
// object is produced.
func NewStretcherRates(edition Edition, rates SampleRates, channels, log2SynthesisHopAdjust int) (*Stretcher, error) {
	if rates.Input <= 0 || rates.Output <= 0 {
		return nil, mapError(ErrBadSampleRate)
	}
	if channels <= 0 || channels > maxChannels {
		return nil, mapError(ErrBadChannelCount)
	}

	funcs, errCode := engineFunctions(edition)
	if errCode != ErrNoError {
		return nil, mapError(errCode)
	}

	engine, errCode := funcs.create(rates, channels, log2SynthesisHopAdjust)
	if errCode != ErrNoError {
		return nil, mapError(errCode)
	}
	if engine == nil {
		return nil, mapError(ErrEngineCreateFailed)
	}

	return &Stretcher{
		engine:   engine,
		rates:    rates,
		channels: channels,
		phase:    phaseUninitialized,
	}, nil
}

// NewStretcherEngine wraps a caller-supplied Engine. The engine must have
// been constructed for the given rates and channel count; the stretcher
// takes ownership and releases it on Close.
func NewStretcherEngine(engine Engine, rates SampleRates, channels int) (*Stretcher, error) {
	if engine == nil {
		return nil, mapError(ErrEngineCreateFailed)
	}
	if rates.Input <= 0 || rates.Output <= 0 {
		return nil, mapError(ErrBadSampleRate)
	}
	if channels <= 0 || channels > maxChannels {
		return nil, mapError(ErrBadChannelCount)
	}
	return &Stretcher{
		engine:   engine,
		rates:    rates,
		channels: channels,
		phase:    phaseUninitialized,
	}, nil
}

// SampleRates returns the stretcher's configured sample rates.
func (s *Stretcher) SampleRates() SampleRates { return s.rates }

// Channels returns the stretcher's channel count.
func (s *Stretcher) Channels() int { return s.channels }

// MaxInputFrameCount returns the largest number of frames that might be
// requested by SpecifyGrain. It is guaranteed that no InputChunk will ever
// exceed this length, so callers can allocate buffers once.
func (s *Stretcher) MaxInputFrameCount() int {
	s.checkOpen()
	return s.engine.MaxInputFrameCount()
}

// Preroll adjusts request.Position for a run-in, so that the first real
// grain already has full context. Must be called exactly once, before the
// first SpecifyGrain.
func (s *Stretcher) Preroll(request Request) Request {
	s.checkOpen()
	assertf(s.phase == phaseUninitialized,
		"Preroll must be the first grain operation (state: %v)", s.phase)
	request = withRequestDefaults(request)
	request = s.engine.Preroll(request)
	s.phase = phasePrerolled
	return request
}

// SpecifyGrain computes the exact input frame range the engine needs for
// this grain. It is a pure function of the current engine state and request:
// engine audio state is not mutated.
func (s *Stretcher) SpecifyGrain(request Request) InputChunk {
	s.checkOpen()
	assertf(s.phase == phasePrerolled || s.phase == phaseAdvanced,
		"SpecifyGrain called out of order (state: %v)", s.phase)
	request = withRequestDefaults(request)
	chunk := s.engine.SpecifyGrain(request, 0.0)
	// A degenerate chunk means the caller drove speed/pitch/reset outside
	// the engine's contract; masking it would hide the misuse.
	assertf(chunk.FrameCount() <= s.engine.MaxInputFrameCount(),
		"engine requested %d input frames, more than MaxInputFrameCount %d",
		chunk.FrameCount(), s.engine.MaxInputFrameCount())
	s.chunk = chunk
	s.phase = phaseSpecified
	return chunk
}

// AnalyseGrain consumes the planar input samples for the previously
// specified chunk. muteFrameCountHead and muteFrameCountTail declare that
// some leading/trailing frames of the supplied chunk are synthetic silence
// (before stream start or past stream end). Must be called exactly once per
// SpecifyGrain, with data covering that chunk's length at the given stride.
func (s *Stretcher) AnalyseGrain(data []float32, channelStride, muteFrameCountHead, muteFrameCountTail int) {
	s.checkOpen()
	assertf(s.phase == phaseSpecified,
		"AnalyseGrain must follow SpecifyGrain (state: %v)", s.phase)

	frameCount := s.chunk.FrameCount()
	if frameCount > 0 {
		assertf(channelStride >= frameCount,
			"channel stride %d is less than chunk frame count %d", channelStride, frameCount)
		need := (s.channels-1)*channelStride + frameCount
		assertf(len(data) >= need,
			"grain data holds %d samples, chunk needs %d", len(data), need)
		assertf(muteFrameCountHead >= 0 && muteFrameCountTail >= 0 &&
			muteFrameCountHead+muteFrameCountTail <= frameCount,
			"mute frame counts (%d head, %d tail) exceed chunk length %d",
			muteFrameCountHead, muteFrameCountTail, frameCount)
	}

	s.engine.AnalyseGrain(data, channelStride, muteFrameCountHead, muteFrameCountTail)
	s.phase = phaseAnalysed
}

// SynthesiseGrain completes processing of the grain and writes the produced
// samples into chunk.Data, setting chunk.FrameCount and the bracketing
// Request snapshots. Must follow AnalyseGrain for the same grain.
func (s *Stretcher) SynthesiseGrain(chunk *OutputChunk) {
	s.checkOpen()
	assertf(s.phase == phaseAnalysed,
		"SynthesiseGrain must follow AnalyseGrain (state: %v)", s.phase)
	assertf(chunk != nil, "nil output chunk")
	assertf(chunk.ChannelStride > 0, "output chunk channel stride must be > 0")
	assertf(len(chunk.Data) >= s.channels*chunk.ChannelStride,
		"output chunk data holds %d samples, need %d",
		len(chunk.Data), s.channels*chunk.ChannelStride)

	s.engine.SynthesiseGrain(chunk)
	s.phase = phaseSynthesised
}

// Next prepares request.Position and request.Reset for the subsequent grain.
// Must be called once per grain, after SynthesiseGrain.
func (s *Stretcher) Next(request Request) Request {
	s.checkOpen()
	assertf(s.phase == phaseSynthesised,
		"Next must follow SynthesiseGrain (state: %v)", s.phase)
	request = withRequestDefaults(request)
	request = s.engine.Next(request)
	s.phase = phaseAdvanced
	return request
}

// IsFlushed reports true once a flush-only (NaN position) grain has fully
// drained the pipeline.
func (s *Stretcher) IsFlushed() bool {
	s.checkOpen()
	return s.engine.IsFlushed()
}

// Latency reports the engine's current latency, in input-frame units.
func (s *Stretcher) Latency() float64 {
	s.checkOpen()
	return s.engine.Latency()
}

// Close releases the engine exactly once. Calling any grain operation after
// Close panics; a second Close is a no-op.
func (s *Stretcher) Close() error {
	if s.phase == phaseClosed {
		return nil
	}
	s.engine.Close()
	s.engine = nil
	s.phase = phaseClosed
	return nil
}

func (s *Stretcher) checkOpen() {
	assertf(s.phase != phaseClosed, "stretcher used after Close")
}

// withRequestDefaults applies the documented defaults for zero-valued speed
// and pitch fields, and validates their range.
func withRequestDefaults(request Request) Request {
	if request.Speed == 0 {
		request.Speed = 1.0
	}
	if request.Pitch == 0 {
		request.Pitch = 1.0
	}
	assertf(request.Speed > 0 && !math.IsNaN(request.Speed),
		"request speed must be > 0, got %v", request.Speed)
	assertf(request.Pitch >= 1.0/maxPitchRatio && request.Pitch <= maxPitchRatio,
		"request pitch %v outside [1/%v, %v]", request.Pitch, maxPitchRatio, maxPitchRatio)
	return request
}
