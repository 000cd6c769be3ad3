package audio

import (
	"encoding/binary"
	"math"
)

const frameMS = 20

// EndpointConfig tunes the energy detector. Durations are audio time.
type EndpointConfig struct {
	SampleRate   int
	Threshold    float64 // RMS over a 20 ms frame
	MinSpeechMS  int
	EndSilenceMS int
}

// Endpoint is what a Push observed.
type Endpoint struct {
	Onset bool // speech started in this push
	End   bool // speech followed by enough silence
}

// Endpointer detects speech onset and the pause that ends an utterance from
// canonical PCM. It keeps no wall-clock state so tests can feed audio at any pace.
type Endpointer struct {
	cfg        EndpointConfig
	frameBytes int
	carry      []byte

	voicedMS  int
	silenceMS int
	started   bool
	ended     bool
}

func NewEndpointer(cfg EndpointConfig) *Endpointer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 600
	}
	if cfg.MinSpeechMS <= 0 {
		cfg.MinSpeechMS = frameMS
	}
	if cfg.EndSilenceMS <= 0 {
		cfg.EndSilenceMS = 700
	}
	return &Endpointer{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * frameMS / 1000 * 2,
	}
}

func (e *Endpointer) Push(pcm []byte) Endpoint {
	var res Endpoint
	data := append(e.carry, pcm...)
	i := 0
	for ; i+e.frameBytes <= len(data); i += e.frameBytes {
		if e.ended {
			continue
		}
		voiced := RMS(data[i:i+e.frameBytes]) >= e.cfg.Threshold
		switch {
		case voiced:
			e.voicedMS += frameMS
			e.silenceMS = 0
			if !e.started && e.voicedMS >= e.cfg.MinSpeechMS {
				e.started = true
				res.Onset = true
			}
		case e.started:
			e.silenceMS += frameMS
			if e.silenceMS >= e.cfg.EndSilenceMS {
				e.ended = true
				res.End = true
			}
		default:
			// a blip shorter than MinSpeechMS does not count
			e.voicedMS = 0
		}
	}
	e.carry = append(e.carry[:0], data[i:]...)
	return res
}

func (e *Endpointer) SpeechStarted() bool { return e.started }

func (e *Endpointer) Reset() {
	e.carry = e.carry[:0]
	e.voicedMS = 0
	e.silenceMS = 0
	e.started = false
	e.ended = false
}

// RMS of little-endian 16-bit samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
