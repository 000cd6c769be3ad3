package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func tone16k(ms int, amp float64) []byte {
	n := 16000 * ms / 1000
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		s := int16(amp * math.Sin(2*math.Pi*300*float64(i)/16000))
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func newTestEndpointer() *Endpointer {
	return NewEndpointer(EndpointConfig{SampleRate: 16000, Threshold: 600, MinSpeechMS: 200, EndSilenceMS: 700})
}

func TestEndpointerOnsetAndEnd(t *testing.T) {
	e := newTestEndpointer()

	if r := e.Push(tone16k(100, 3000)); r.Onset || r.End {
		t.Fatalf("onset before min speech: %+v", r)
	}
	if r := e.Push(tone16k(100, 3000)); !r.Onset {
		t.Fatal("expected onset after 200ms of speech")
	}
	if !e.SpeechStarted() {
		t.Fatal("expected speech started")
	}
	if r := e.Push(tone16k(600, 0)); r.End {
		t.Fatal("endpoint before end silence")
	}
	if r := e.Push(tone16k(100, 0)); !r.End {
		t.Fatal("expected endpoint after 700ms of silence")
	}
}

func TestEndpointerIgnoresShortBlips(t *testing.T) {
	e := newTestEndpointer()
	for i := 0; i < 5; i++ {
		e.Push(tone16k(100, 3000))
		e.Push(tone16k(100, 0))
	}
	if e.SpeechStarted() {
		t.Fatal("100ms blips must not count as speech")
	}
}

func TestEndpointerOddChunks(t *testing.T) {
	e := newTestEndpointer()
	pcm := append(tone16k(300, 3000), tone16k(800, 0)...)
	var onset, end bool
	for i := 0; i < len(pcm); i += 333 {
		j := i + 333
		if j > len(pcm) {
			j = len(pcm)
		}
		r := e.Push(pcm[i:j])
		onset = onset || r.Onset
		end = end || r.End
	}
	if !onset || !end {
		t.Fatalf("onset=%v end=%v", onset, end)
	}

	e.Reset()
	if e.SpeechStarted() {
		t.Fatal("reset kept state")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := tone16k(50, 4000)
	b, err := WAVBytes(pcm, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("RIFF")) {
		t.Fatal("missing RIFF header")
	}
	got, rate, err := DecodeWAV(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("rate %d", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm differs: %d vs %d bytes", len(got), len(pcm))
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error")
	}
}
