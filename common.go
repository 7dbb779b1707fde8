// common.go
package timestretch

import (
	"fmt"
	"math"
)

// --- Core Types ---

// SampleRates holds the stretcher's audio sample rates, in Hz.
// Both rates are fixed for the lifetime of an engine instance.
type SampleRates struct {
	Input  int
	Output int
}

// Request is passed to the stretcher every time an audio grain is processed.
// It is always passed by value and handed back by value: operations that the
// original C API expressed as in/out pointer mutation (Preroll, Next) return
// the updated Request instead.
type Request struct {
	// Position is the frame offset within the input audio of the
	// centre-point of the current grain. NaN signifies an invalid grain that
	// produces no audio output and may be used for flushing.
	Position float64

	// Speed is the output audio speed. 1.0 means unchanged relative to the
	// input audio. The engine's internal algorithms use it only when speed
	// cannot be determined by differencing consecutive grain positions.
	Speed float64

	// Pitch is a frequency multiplier, 1.0 meaning no pitch adjustment.
	Pitch float64

	// Reset makes the engine forget all previous grains and restart on this
	// grain, as if at a fresh stream start. External position bookkeeping is
	// unaffected.
	Reset bool
}

// IsFlushGrain reports whether the request describes an invalid,
// flush-only grain.
func (r Request) IsFlushGrain() bool {
	return math.IsNaN(r.Position)
}

// InputChunk describes the half-open frame range [Begin, End) of input audio
// that the engine requires for the current grain. Offsets are relative to the
// start of the audio track; Begin may be negative, in which case the caller
// must supply silence for the out-of-range portion. Input chunks of
// consecutive grains often overlap.
type InputChunk struct {
	Begin int
	End   int
}

// FrameCount returns the chunk length in frames.
func (c InputChunk) FrameCount() int {
	if c.End <= c.Begin {
		return 0
	}
	return c.End - c.Begin
}

// OutputChunk describes one grain's chunk of planar audio output. Output
// chunks do not overlap and can be appended for seamless playback.
type OutputChunk struct {
	// Data is the planar output buffer supplied by the caller. Channel n
	// occupies Data[n*ChannelStride : n*ChannelStride+FrameCount].
	Data []float32

	// FrameCount is set by SynthesiseGrain to the number of frames produced.
	FrameCount int

	// ChannelStride is the distance in samples between consecutive channels.
	// Set by the caller before SynthesiseGrain.
	ChannelStride int

	// Requests bracket the chunk: Requests[0] corresponds to the first frame
	// of Data, Requests[1] to the frame after the last one. Either may be nil
	// early in a stream.
	Requests [2]*Request
}

// --- Error Codes ---

// ErrorCode identifies configuration errors reported at construction time.
// Contract violations (protocol misuse, buffer mismatches) are not
// ErrorCodes; they panic.
type ErrorCode int

const (
	ErrNoError ErrorCode = iota
	ErrBadSampleRate
	ErrBadChannelCount
	ErrBadEdition
	ErrBadFrameCount
	ErrEngineCreateFailed
	ErrBadState
	ErrBadInternalState
)

// mapError converts an internal ErrorCode to a Go error. Returns nil for
// ErrNoError.
func mapError(code ErrorCode) error {
	if code == ErrNoError {
		return nil
	}
	msg := getErrorString(code)
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Errorf("timestretch error %d: %s", code, msg)
}

// getErrorString returns the base message for an ErrorCode.
func getErrorString(code ErrorCode) string {
	switch code {
	case ErrNoError:
		return "No error."
	case ErrBadSampleRate:
		return "Sample rates must be > 0."
	case ErrBadChannelCount:
		return fmt.Sprintf("Channel count must be between 1 and %d.", maxChannels)
	case ErrBadEdition:
		return "Unknown or disabled engine edition."
	case ErrBadFrameCount:
		return "Maximum input frame count must be > 0."
	case ErrEngineCreateFailed:
		return "Engine could not be created."
	case ErrBadState:
		return "Invalid stretcher state (used after Close?)."
	case ErrBadInternalState:
		return "Internal error: Inconsistent state detected."
	default:
		return ""
	}
}

// StrError converts an error produced by this package to a human-readable
// string. For foreign errors the original message is returned unchanged.
func StrError(err error) string {
	if err == nil {
		return getErrorString(ErrNoError)
	}
	var code ErrorCode
	if _, scanErr := fmt.Sscanf(err.Error(), "timestretch error %d:", &code); scanErr == nil {
		if msg := getErrorString(code); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// --- Internal Helpers ---

// assertf is the contract-violation check used across the package. Caller
// misuse indicates a bug, not a runtime condition, so it fails loudly.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic("timestretch: " + fmt.Sprintf(format, args...))
	}
}

// floorInt returns floor(x) as an int.
func floorInt(x float64) int {
	return int(math.Floor(x))
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
