package capture

import (
	"encoding/binary"
	"math"
)

// toneGenerator produces a quiet sine wave so the audio track carries
// something when no microphone command is configured.
type toneGenerator struct {
	sampleRate int
	channels   int
	step       float64
	phase      float64
	amplitude  float64
}

func newToneGenerator(sampleRate, channels int, freq float64) *toneGenerator {
	return &toneGenerator{
		sampleRate: sampleRate,
		channels:   channels,
		step:       2 * math.Pi * freq / float64(sampleRate),
		amplitude:  0.02 * math.MaxInt16,
	}
}

// Next returns frames interleaved little-endian PCM16 frames.
func (g *toneGenerator) Next(frames int) []byte {
	out := make([]byte, frames*g.channels*2)
	for i := 0; i < frames; i++ {
		v := uint16(int16(g.amplitude * math.Sin(g.phase)))
		for c := 0; c < g.channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*g.channels+c)*2:], v)
		}
		g.phase += g.step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
	return out
}
