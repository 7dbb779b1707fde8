//
// stretch-file reads a WAV or MP3 file, applies a time-stretch and/or pitch
// shift, and writes the result as a 16-bit WAV file.
//
// Usage:
//
//	stretch-file -in input.wav -out output.wav -speed 0.75 -pitch 1.0
//
package main

import (
	"flag"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	log "github.com/sirupsen/logrus"

	timestretch "github.com/keereets/go-timestretch"
)

const blockLen = 1024

func main() {
	inPath := flag.String("in", "", "input audio file (.wav or .mp3)")
	outPath := flag.String("out", "", "output WAV file")
	speed := flag.Float64("speed", 1.0, "playback speed (0.25..4, 1.0 = unchanged)")
	pitch := flag.Float64("pitch", 1.0, "pitch ratio (0.25..4, 1.0 = unchanged)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *inPath == "" || *outPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *speed <= 0 {
		log.Fatalf("speed must be > 0, got %v", *speed)
	}

	channels, sampleRate, err := loadAudio(*inPath)
	if err != nil {
		log.Fatalf("reading %s: %v", *inPath, err)
	}
	inFrames := len(channels[0])
	log.WithFields(log.Fields{
		"file":       *inPath,
		"sampleRate": sampleRate,
		"channels":   len(channels),
		"frames":     inFrames,
	}).Info("loaded input")

	output, err := stretchAll(channels, sampleRate, *speed, *pitch)
	if err != nil {
		log.Fatalf("stretching: %v", err)
	}
	log.WithFields(log.Fields{
		"inputFrames":  inFrames,
		"outputFrames": len(output[0]),
		"speed":        *speed,
		"pitch":        *pitch,
	}).Info("stretch complete")

	if err := writeWav(*outPath, output, sampleRate); err != nil {
		log.Fatalf("writing %s: %v", *outPath, err)
	}
	log.WithField("file", *outPath).Info("wrote output")
}

// stretchAll pushes whole planar buffers through a Stream block by block,
// discarding the pipeline warm-up and draining the flush tail, so the
// result starts and ends with the musical content.
func stretchAll(input [][]float32, sampleRate int, speed, pitch float64) ([][]float32, error) {
	channelCount := len(input)
	inFrames := len(input[0])

	stream, err := timestretch.NewStream(sampleRate, channelCount, blockLen)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	targetFrames := int(math.Round(float64(inFrames) / speed))
	output := make([][]float32, channelCount)
	for ch := range output {
		output[ch] = make([]float32, 0, targetFrames+blockLen)
	}

	outBlock := make([][]float32, channelCount)
	outCap := int(math.Ceil(float64(blockLen) / speed))
	for ch := range outBlock {
		outBlock[ch] = make([]float32, outCap)
	}

	appendBlock := func(skip, produced int) {
		remaining := targetFrames - len(output[0])
		count := produced - skip
		if count > remaining {
			count = remaining
		}
		if count <= 0 {
			return
		}
		for ch := range output {
			output[ch] = append(output[ch], outBlock[ch][skip:skip+count]...)
		}
	}

	inBlock := make([][]float32, channelCount)
	for off := 0; off < inFrames; off += blockLen {
		n := blockLen
		if off+n > inFrames {
			n = inFrames - off
		}
		for ch := range inBlock {
			inBlock[ch] = input[ch][off : off+n]
		}
		produced := stream.Process(inBlock, outBlock, n, float64(n)/speed, pitch)
		skip := stream.SkipLatency(produced)
		appendBlock(skip, produced)
		log.WithFields(log.Fields{
			"offset":   off,
			"produced": produced,
			"skipped":  skip,
		}).Debug("processed block")
	}

	// Flush: feed mute blocks until the pipeline has drained or the target
	// length is reached.
	for len(output[0]) < targetFrames && !stream.IsFlushed() {
		produced := stream.Process(nil, outBlock, blockLen, float64(blockLen)/speed, pitch)
		skip := stream.SkipLatency(produced)
		appendBlock(skip, produced)
	}

	return output, nil
}

func loadAudio(path string) ([][]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return loadMp3(path)
	default:
		return loadWavFile(path)
	}
}

func loadWavFile(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}

	channelCount := buf.Format.NumChannels
	frames := len(buf.Data) / channelCount
	scale := float32(int(1) << uint(buf.SourceBitDepth-1))

	channels := make([][]float32, channelCount)
	for ch := range channels {
		channels[ch] = make([]float32, frames)
	}
	for fr := 0; fr < frames; fr++ {
		for ch := 0; ch < channelCount; ch++ {
			channels[ch][fr] = float32(buf.Data[fr*channelCount+ch]) / scale
		}
	}
	return channels, buf.Format.SampleRate, nil
}

func loadMp3(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, err
	}

	// go-mp3 always produces 16-bit little-endian stereo.
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, err
	}
	frames := len(raw) / 4
	left := make([]float32, frames)
	right := make([]float32, frames)
	for fr := 0; fr < frames; fr++ {
		l := int16(uint16(raw[fr*4]) | uint16(raw[fr*4+1])<<8)
		r := int16(uint16(raw[fr*4+2]) | uint16(raw[fr*4+3])<<8)
		left[fr] = float32(l) / 32768.0
		right[fr] = float32(r) / 32768.0
	}
	return [][]float32{left, right}, decoder.SampleRate(), nil
}

func writeWav(path string, channels [][]float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	channelCount := len(channels)
	frames := len(channels[0])
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channelCount, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, frames*channelCount),
	}
	for fr := 0; fr < frames; fr++ {
		for ch := 0; ch < channelCount; ch++ {
			s := channels[ch][fr]
			if s > 1.0 {
				s = 1.0
			} else if s < -1.0 {
				s = -1.0
			}
			buf.Data[fr*channelCount+ch] = int(s * 32767.0)
		}
	}

	encoder := wav.NewEncoder(f, sampleRate, 16, channelCount, 1)
	if err := encoder.Write(buf); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}
