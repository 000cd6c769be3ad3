package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes mono 16-bit PCM as a WAV file.
func EncodeWAV(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVBytes is EncodeWAV into memory.
func WAVBytes(pcm []byte, sampleRate int) ([]byte, error) {
	var buf seekBuffer
	if err := EncodeWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// DecodeWAV returns mono 16-bit PCM and the file's sample rate. Multi-channel
// input is downmixed by averaging.
func DecodeWAV(b []byte) ([]byte, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	ch := int(dec.NumChans)
	if ch < 1 {
		ch = 1
	}
	frames := len(buf.Data) / ch
	out := make([]byte, 0, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(sum/ch)))
	}
	return out, int(dec.SampleRate), nil
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which patches
// the header after the data is written.
type seekBuffer struct {
	b   []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.b) {
		s.b = append(s.b, make([]byte, end-len(s.b))...)
	}
	copy(s.b[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.b)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
