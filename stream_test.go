// stream_test.go
package timestretch

import (
	"fmt"
	"math"
	"testing"
)

func TestStreamConstructionErrors(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		maxBlock   int
	}{
		{"ZeroRate", 0, 1, 512},
		{"NegativeRate", -44100, 1, 512},
		{"ZeroChannels", 44100, 0, 512},
		{"TooManyChannels", 44100, maxChannels + 1, 512},
		{"ZeroMaxBlock", 44100, 1, 0},
		{"NegativeMaxBlock", 44100, 1, -1},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			stream, err := NewStream(tc.sampleRate, tc.channels, tc.maxBlock)
			if err == nil {
				stream.Close()
				t.Fatalf("NewStream(%d, %d, %d) succeeded, want error",
					tc.sampleRate, tc.channels, tc.maxBlock)
			}
			t.Logf("got expected error: %v", err)
		})
	}
}

// TestStreamIdentity pushes audio through at speed 1.0 / pitch 1.0 and checks
// the streaming bookkeeping: every call produces exactly the requested whole
// number of frames, positions track the block sizes exactly, and latency is
// reported once audio is flowing.
func TestStreamIdentity(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		blockCount = 32
	)

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	input := make([]float32, blockLen*blockCount)
	genSineGo(0.03125, 0.8, input)
	output := make([]float32, blockLen)

	totalProduced := 0
	for b := 0; b < blockCount; b++ {
		in := [][]float32{input[b*blockLen : (b+1)*blockLen]}
		out := [][]float32{output}
		produced := stream.Process(in, out, blockLen, float64(blockLen), 1.0)
		if produced != blockLen {
			t.Fatalf("block %d: produced %d frames, want exactly %d at speed 1", b, produced, blockLen)
		}
		if !allFiniteGo(output[:produced]) {
			t.Fatalf("block %d: non-finite output", b)
		}
		totalProduced += produced

		if got, want := stream.InputPosition(), int64((b+1)*blockLen); got != want {
			t.Fatalf("block %d: InputPosition() = %d, want %d", b, got, want)
		}
		if b == 0 && stream.Latency() <= 0 {
			t.Errorf("Latency() = %v after first call, want > 0", stream.Latency())
		}
	}

	if totalProduced != blockLen*blockCount {
		t.Errorf("total produced = %d, want %d", totalProduced, blockLen*blockCount)
	}
	// At speed 1 the output position (in input frames) tracks the input.
	if diff := math.Abs(stream.OutputPosition() - float64(stream.InputPosition())); diff > 1.0 {
		t.Errorf("OutputPosition() = %v, InputPosition() = %d, diff %v > 1",
			stream.OutputPosition(), stream.InputPosition(), diff)
	}
}

// TestStreamSpeedEndToEnd is the canonical single-call slow-down case:
// 1024 input frames at speed 0.7 must produce ceil(1024/0.7) frames.
func TestStreamSpeedEndToEnd(t *testing.T) {
	const (
		sampleRate = 44100
		inFrames   = 1024
		speed      = 0.7
	)
	outFrameCount := float64(inFrames) / speed // 1462.857...
	outCap := int(math.Ceil(outFrameCount))

	stream, err := NewStream(sampleRate, 1, inFrames)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	input := make([]float32, inFrames)
	genSineGo(0.03125, 0.8, input)
	output := make([]float32, outCap)

	produced := stream.Process([][]float32{input}, [][]float32{output}, inFrames, outFrameCount, 1.0)
	if produced != outCap {
		t.Errorf("produced = %d, want ceil(%v) = %d", produced, outFrameCount, outCap)
	}
	if got := stream.InputPosition(); got != inFrames {
		t.Errorf("InputPosition() = %d, want %d", got, inFrames)
	}
	if stream.Latency() <= 0 {
		t.Errorf("Latency() = %v, want > 0", stream.Latency())
	}
	if !allFiniteGo(output[:produced]) {
		t.Error("output contains non-finite samples")
	}
}

// TestStreamDitherAccumulation runs many calls with a fractional output
// budget and checks that each call stays within floor/ceil and that the
// total does not drift.
func TestStreamDitherAccumulation(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 600
		blockCount = 20
		speed      = 0.7
	)
	outFrameCount := float64(blockLen) / speed // 857.142857...
	outCap := int(math.Ceil(outFrameCount))

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	input := make([]float32, blockLen)
	genSineGo(0.02, 0.5, input)
	output := make([]float32, outCap)

	floorN, ceilN := int(math.Floor(outFrameCount)), outCap
	totalProduced := 0
	for b := 0; b < blockCount; b++ {
		produced := stream.Process([][]float32{input}, [][]float32{output}, blockLen, outFrameCount, 1.0)
		if produced != floorN && produced != ceilN {
			t.Fatalf("block %d: produced %d, want %d or %d", b, produced, floorN, ceilN)
		}
		totalProduced += produced
	}

	exact := outFrameCount * float64(blockCount)
	if math.Abs(float64(totalProduced)-exact) > 1.0 {
		t.Errorf("total produced = %d, want within 1 of %v", totalProduced, exact)
	}
}

// TestStreamStereo checks planar multichannel handling: identical audio on
// both channels must come out identical, sample for sample.
func TestStreamStereo(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		blockCount = 16
	)

	stream, err := NewStream(sampleRate, 2, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	input := make([]float32, blockLen*blockCount)
	genSineGo(0.04, 0.6, input)
	outL := make([]float32, blockLen)
	outR := make([]float32, blockLen)

	for b := 0; b < blockCount; b++ {
		block := input[b*blockLen : (b+1)*blockLen]
		in := [][]float32{block, block}
		out := [][]float32{outL, outR}
		produced := stream.Process(in, out, blockLen, float64(blockLen), 1.0)
		for i := 0; i < produced; i++ {
			if outL[i] != outR[i] {
				t.Fatalf("block %d frame %d: channels diverged (%v vs %v)", b, i, outL[i], outR[i])
			}
		}
	}
}

// TestStreamFlush drives the end-of-stream recipe: feed real audio, then
// mute blocks to pump out what is still inside the pipeline. Recovering the
// full content must not cost more than one latency's worth of flush output
// on top of totalInput/speed, and continued mute feeding must drive
// IsFlushed true within a bounded number of calls.
func TestStreamFlush(t *testing.T) {
	const (
		sampleRate    = 44100
		blockLen      = 512
		realBlocks    = 4
		maxMuteBlocks = 64
	)
	totalInput := realBlocks * blockLen

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	input := make([]float32, blockLen)
	genSineGo(0.03, 0.5, input)
	output := make([]float32, blockLen)

	// Real audio; discard the warm-up frames, keep the rest.
	kept := 0
	for b := 0; b < realBlocks; b++ {
		produced := stream.Process([][]float32{input}, [][]float32{output}, blockLen, float64(blockLen), 1.0)
		kept += produced - stream.SkipLatency(produced)
	}
	if stream.IsFlushed() {
		t.Fatal("IsFlushed() = true while audio is in flight, want false")
	}

	// At speed 1 every input frame maps to one output frame, so the content
	// totals totalInput frames; what is still missing sits within the
	// pipeline's latency.
	target := totalInput
	latencyOut := int(math.Ceil(stream.Latency()))
	flushProduced := 0
	for kept < target {
		if flushProduced > latencyOut+blockLen {
			t.Fatalf("flushed %d frames without recovering the content (kept %d of %d)",
				flushProduced, kept, target)
		}
		produced := stream.Process(nil, [][]float32{output}, blockLen, float64(blockLen), 1.0)
		flushProduced += produced
		keep := produced - stream.SkipLatency(produced)
		if kept+keep > target {
			keep = target - kept
		}
		kept += keep
	}
	if kept != target {
		t.Errorf("recovered %d content frames, want %d", kept, target)
	}
	if flushProduced > latencyOut+blockLen {
		t.Errorf("flush produced %d frames to recover the content, want <= latency %d + one block %d",
			flushProduced, latencyOut, blockLen)
	}
	t.Logf("content recovered with %d flush frames (latency %d)", flushProduced, latencyOut)

	// Keep feeding mute input; the pipeline must report flushed soon after.
	flushed := false
	for b := 0; b < maxMuteBlocks; b++ {
		produced := stream.Process(nil, [][]float32{output}, blockLen, float64(blockLen), 1.0)
		if produced != blockLen {
			t.Fatalf("mute block %d: produced %d, want %d", b, produced, blockLen)
		}
		if stream.IsFlushed() {
			flushed = true
			t.Logf("stream flushed after %d further mute blocks", b+1)
			break
		}
	}
	if !flushed {
		t.Errorf("stream not flushed after %d mute blocks", maxMuteBlocks)
	}
}

// TestStreamSkipLatency verifies that the warm-up discard budget equals the
// reported latency (in output frames) and is consumed exactly once.
func TestStreamSkipLatency(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		blockCount = 8
	)

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	if got := stream.SkipLatency(blockLen); got != 0 {
		t.Errorf("SkipLatency before first Process = %d, want 0", got)
	}

	input := make([]float32, blockLen)
	genSineGo(0.03, 0.5, input)
	output := make([]float32, blockLen)

	totalSkipped := 0
	for b := 0; b < blockCount; b++ {
		produced := stream.Process([][]float32{input}, [][]float32{output}, blockLen, float64(blockLen), 1.0)
		skip := stream.SkipLatency(produced)
		if skip < 0 || skip > produced {
			t.Fatalf("block %d: SkipLatency(%d) = %d, out of range", b, produced, skip)
		}
		totalSkipped += skip
	}

	// At speed 1 the latency in output frames equals the latency in input
	// frames, and the whole budget must have been consumed by now.
	wantSkip := int(stream.Latency())
	if totalSkipped != wantSkip {
		t.Errorf("total skipped = %d, want %d (latency %v)", totalSkipped, wantSkip, stream.Latency())
	}
	if got := stream.SkipLatency(blockLen); got != 0 {
		t.Errorf("SkipLatency after budget consumed = %d, want 0", got)
	}
}

func TestStreamProcessPanics(t *testing.T) {
	newOne := func(t *testing.T) *Stream {
		t.Helper()
		stream, err := NewStream(44100, 1, 512)
		if err != nil {
			t.Fatalf("NewStream failed: %v", err)
		}
		t.Cleanup(func() { stream.Close() })
		return stream
	}
	input := make([]float32, 512)
	output := make([]float32, 512)

	tests := []struct {
		name string
		fn   func(s *Stream)
	}{
		{"ZeroInputFrames", func(s *Stream) {
			s.Process([][]float32{input}, [][]float32{output}, 0, 512, 1.0)
		}},
		{"OversizedBlock", func(s *Stream) {
			s.Process([][]float32{input}, [][]float32{output}, 513, 512, 1.0)
		}},
		{"ZeroOutputFrames", func(s *Stream) {
			s.Process([][]float32{input}, [][]float32{output}, 512, 0, 1.0)
		}},
		{"WrongInputChannels", func(s *Stream) {
			s.Process([][]float32{input, input}, [][]float32{output}, 512, 512, 1.0)
		}},
		{"WrongOutputChannels", func(s *Stream) {
			s.Process([][]float32{input}, [][]float32{output, output}, 512, 512, 1.0)
		}},
		{"ShortOutputBuffer", func(s *Stream) {
			s.Process([][]float32{input}, [][]float32{output[:100]}, 512, 512, 1.0)
		}},
		{"ShortInputBuffer", func(s *Stream) {
			s.Process([][]float32{input[:100]}, [][]float32{output}, 512, 512, 1.0)
		}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			stream := newOne(t)
			mustPanicGo(t, fmt.Sprintf("Process/%s", tc.name), func() { tc.fn(stream) })
		})
	}

	t.Run("AfterClose", func(t *testing.T) {
		stream, err := NewStream(44100, 1, 512)
		if err != nil {
			t.Fatalf("NewStream failed: %v", err)
		}
		if err := stream.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := stream.Close(); err != nil {
			t.Errorf("second Close() = %v, want nil", err)
		}
		mustPanicGo(t, "Process after Close", func() {
			stream.Process([][]float32{input}, [][]float32{output}, 512, 512, 1.0)
		})
		// Accessors must fail the same way once the stream is dead.
		mustPanicGo(t, "InputPosition after Close", func() { stream.InputPosition() })
		mustPanicGo(t, "OutputPosition after Close", func() { stream.OutputPosition() })
		mustPanicGo(t, "Latency after Close", func() { stream.Latency() })
		mustPanicGo(t, "SkipLatency after Close", func() { stream.SkipLatency(1) })
		mustPanicGo(t, "IsFlushed after Close", func() { stream.IsFlushed() })
	})
}
