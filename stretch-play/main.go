//
// stretch-play reads a WAV file, time-stretches it and plays the result on
// the default audio device.
//
// Usage:
//
//	stretch-play -in music.wav -speed 0.8 -pitch 1.0
//
package main

import (
	"bytes"
	"flag"
	"math"
	"os"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/wav"
	log "github.com/sirupsen/logrus"

	timestretch "github.com/keereets/go-timestretch"
)

const blockLen = 1024

func main() {
	inPath := flag.String("in", "", "input WAV file")
	speed := flag.Float64("speed", 1.0, "playback speed (0.25..4, 1.0 = unchanged)")
	pitch := flag.Float64("pitch", 1.0, "pitch ratio (0.25..4, 1.0 = unchanged)")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *speed <= 0 {
		log.Fatalf("speed must be > 0, got %v", *speed)
	}

	channels, sampleRate, err := loadWavFile(*inPath)
	if err != nil {
		log.Fatalf("reading %s: %v", *inPath, err)
	}
	log.WithFields(log.Fields{
		"file":       *inPath,
		"sampleRate": sampleRate,
		"channels":   len(channels),
		"frames":     len(channels[0]),
	}).Info("loaded input")

	pcm, err := stretchToPCM(channels, sampleRate, *speed, *pitch)
	if err != nil {
		log.Fatalf("stretching: %v", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: len(channels),
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		log.Fatalf("opening audio device: %v", err)
	}
	<-ready

	player := ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	log.WithFields(log.Fields{"speed": *speed, "pitch": *pitch}).Info("playing")
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	if err := player.Close(); err != nil {
		log.Warnf("closing player: %v", err)
	}
}

// stretchToPCM streams the planar input through a Stream and interleaves
// the result as signed 16-bit little-endian PCM, ready for playback.
func stretchToPCM(input [][]float32, sampleRate int, speed, pitch float64) ([]byte, error) {
	channelCount := len(input)
	inFrames := len(input[0])

	stream, err := timestretch.NewStream(sampleRate, channelCount, blockLen)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	targetFrames := int(math.Round(float64(inFrames) / speed))
	pcm := make([]byte, 0, targetFrames*channelCount*2)
	written := 0

	outCap := int(math.Ceil(float64(blockLen) / speed))
	outBlock := make([][]float32, channelCount)
	for ch := range outBlock {
		outBlock[ch] = make([]float32, outCap)
	}

	appendPCM := func(skip, produced int) {
		count := produced - skip
		if remaining := targetFrames - written; count > remaining {
			count = remaining
		}
		for fr := skip; fr < skip+count; fr++ {
			for ch := 0; ch < channelCount; ch++ {
				s := outBlock[ch][fr]
				if s > 1.0 {
					s = 1.0
				} else if s < -1.0 {
					s = -1.0
				}
				v := int16(s * 32767.0)
				pcm = append(pcm, byte(uint16(v)), byte(uint16(v)>>8))
			}
		}
		if count > 0 {
			written += count
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
		appendPCM(skip, produced)
	}
	for written < targetFrames && !stream.IsFlushed() {
		produced := stream.Process(nil, outBlock, blockLen, float64(blockLen)/speed, pitch)
		skip := stream.SkipLatency(produced)
		appendPCM(skip, produced)
	}

	return pcm, nil
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
