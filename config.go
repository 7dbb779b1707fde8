//
// Copyright (c) 2025, Antonio Chirizzi <antonio.chirizzi@gmail.com>
// All rights reserved.
//
// This code is released under 3-clause BSD license. Please see the
// file LICENSE
//

package timestretch

// Compile-time configuration constants.

const (
	// Enabled engine editions
	enableBasicEngine = true

	packageVersion = "0.1.0"

	maxChannels = 128

	// maxPitchRatio bounds Request.Pitch to [1/maxPitchRatio, maxPitchRatio]
	// (two octaves either way). The bound exists so that engines can size
	// their grain input buffers once, at construction.
	maxPitchRatio = 4.0

	// Synthesis hop bounds for the Basic engine, in output frames.
	minSynthesisHop = 32
	maxSynthesisHop = 8192
)
