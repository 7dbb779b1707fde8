// engine.go
package timestretch

import (
	"sync"
)

// Engine is the grain-level contract consumed by Stretcher. An Engine is an
// opaque, stateful, per-channel-layout processing unit: given a
// position-tagged request it reports the input frame range it needs, consumes
// caller-supplied samples for that range, and produces one chunk of output
// audio.
//
// Engines perform no locking and must not be shared between goroutines
// without external serialization. Call ordering is enforced by Stretcher, so
// implementations may trust it.
type Engine interface {
	// MaxInputFrameCount returns the largest number of frames that
	// SpecifyGrain might ever request. Callers size scratch buffers to this
	// bound once.
	MaxInputFrameCount() int

	// Preroll rewrites request.Position to an earlier position so that the
	// first real grain already has full context (run-in).
	Preroll(request Request) Request

	// Next prepares request.Position and request.Reset for the subsequent
	// grain.
	Next(request Request) Request

	// SpecifyGrain computes the input audio segment necessary for the grain
	// described by request. Frame offsets in the returned chunk are relative
	// to bufferStartPosition. It does not mutate engine audio state.
	SpecifyGrain(request Request, bufferStartPosition float64) InputChunk

	// AnalyseGrain begins processing the grain with the provided planar
	// audio data for the previously specified chunk. The first
	// muteFrameCountHead and last muteFrameCountTail frames of the chunk are
	// synthetic silence and must not be treated as real signal.
	AnalyseGrain(data []float32, channelStride, muteFrameCountHead, muteFrameCountTail int)

	// SynthesiseGrain completes the grain, writing produced samples into
	// chunk.Data and setting chunk.FrameCount and the bracketing Request
	// snapshots.
	SynthesiseGrain(chunk *OutputChunk)

	// IsFlushed reports true once a flush-only (NaN position) grain has
	// fully drained the pipeline: no more non-silent output is pending.
	IsFlushed() bool

	// Latency reports the stretcher's current latency in input-frame units.
	// It may change when the engine's settings (for example speed) change.
	Latency() float64

	// Close releases engine resources. No other method may be called after
	// Close.
	Close()
}

// Edition selects an engine implementation, mirroring the editions of the
// C library's function tables.
type Edition int

const (
	EditionBasic Edition = 0
)

// engineFuncs is one edition's entry in the process-wide function table.
type engineFuncs struct {
	name    string
	version string
	create  func(rates SampleRates, channels, log2SynthesisHopAdjust int) (Engine, ErrorCode)
}

// The function table is process-wide state, initialized exactly once on
// first use. Concurrent first use from multiple goroutines performs the
// initialization once and all callers observe the same value; if it were
// ever to fail, the same error is surfaced on every subsequent lookup
// rather than retried.
var engineTable struct {
	once    sync.Once
	errCode ErrorCode
	funcs   map[Edition]*engineFuncs
}

func initEngineTable() {
	engineTable.funcs = make(map[Edition]*engineFuncs)
	if enableBasicEngine {
		engineTable.funcs[EditionBasic] = &engineFuncs{
			name:    "Basic",
			version: packageVersion,
			create:  newBasicEngine,
		}
	}
	if len(engineTable.funcs) == 0 {
		engineTable.errCode = ErrBadEdition
	}
}

// engineFunctions returns the function-table entry for an edition.
func engineFunctions(edition Edition) (*engineFuncs, ErrorCode) {
	engineTable.once.Do(initEngineTable)
	if engineTable.errCode != ErrNoError {
		return nil, engineTable.errCode
	}
	funcs, ok := engineTable.funcs[edition]
	if !ok {
		return nil, ErrBadEdition
	}
	return funcs, ErrNoError
}

// EditionName reports the name of an engine edition, for example "Basic".
// Returns "" for unknown or disabled editions.
func EditionName(edition Edition) string {
	funcs, errCode := engineFunctions(edition)
	if errCode != ErrNoError {
		return ""
	}
	return funcs.name
}

// Version returns the library version string.
func Version() string {
	return packageVersion
}
