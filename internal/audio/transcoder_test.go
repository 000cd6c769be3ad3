package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

func sine8k(n int, freq, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/ChannelSampleRate))
	}
	return out
}

func ulawStream(samples []int16, pt uint8) []byte {
	var stream []byte
	var seq uint16
	for i := 0; i < len(samples); i += OutboundPacketPayload {
		end := i + OutboundPacketPayload
		if end > len(samples) {
			end = len(samples)
		}
		var payload []byte
		for _, s := range samples[i:end] {
			if pt == models.PayloadPCMA {
				payload = append(payload, linearToALaw(s))
			} else {
				payload = append(payload, linearToULaw(s))
			}
		}
		stream = append(stream, EncodePacket(pt, seq, payload)...)
		seq++
	}
	return stream
}

func parseStream(t *testing.T, stream []byte) []models.AudioFrame {
	t.Helper()
	var frames []models.AudioFrame
	for len(stream) > 0 {
		f, n, err := parsePacket(stream)
		if err != nil || n == 0 {
			t.Fatalf("bad outbound stream: n=%d err=%v", n, err)
		}
		frames = append(frames, f)
		stream = stream[n:]
	}
	return frames
}

func TestNewTranscoderRejectsRate(t *testing.T) {
	for _, rate := range []int{0, 11025, 22050, 44100} {
		if _, err := NewTranscoder(rate); !utils.IsCode(err, utils.CodeInvalidArgument) {
			t.Errorf("rate %d: expected invalid argument, got %v", rate, err)
		}
	}
}

func TestToCanonicalIndependentOfChunking(t *testing.T) {
	stream := ulawStream(sine8k(800, 300, 9000), models.PayloadPCMU)

	whole, _ := NewTranscoder(16000)
	want, err := whole.ToCanonical(stream)
	if err != nil {
		t.Fatalf("whole stream: %v", err)
	}
	if len(want) != 800*2*2 {
		t.Fatalf("expected %d bytes, got %d", 800*4, len(want))
	}

	for _, size := range []int{1, 3, 7, 160, 166, 999} {
		tc, _ := NewTranscoder(16000)
		var got []byte
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			pcm, err := tc.ToCanonical(stream[i:end])
			if err != nil {
				t.Fatalf("chunk size %d: %v", size, err)
			}
			got = append(got, pcm...)
		}
		if err := tc.Flush(); err != nil {
			t.Fatalf("chunk size %d: flush: %v", size, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk size %d: output differs from whole-stream decode", size)
		}
	}
}

func TestRoundTripPreservesLength(t *testing.T) {
	for _, rate := range []int{8000, 16000, 24000} {
		src := sine8k(480, 200, 8000)
		tc, err := NewTranscoder(rate)
		if err != nil {
			t.Fatal(err)
		}
		pcm, err := tc.ToCanonical(ulawStream(src, models.PayloadPCMU))
		if err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}
		if len(pcm) != len(src)*2*(rate/ChannelSampleRate) {
			t.Fatalf("rate %d: canonical length %d", rate, len(pcm))
		}

		frames := parseStream(t, tc.FromCanonical(pcm))
		var decoded []int16
		for i, f := range frames {
			if f.Seq != uint16(i) {
				t.Fatalf("rate %d: seq %d at %d", rate, f.Seq, i)
			}
			decoded = append(decoded, DecodeULaw(f.Payload)...)
		}
		if len(decoded) != len(src) {
			t.Fatalf("rate %d: round trip length %d, want %d", rate, len(decoded), len(src))
		}
		for i := range src {
			if d := int(decoded[i]) - int(src[i]); d > 600 || d < -600 {
				t.Fatalf("rate %d: sample %d off by %d", rate, i, d)
			}
		}
	}
}

func TestFromCanonicalFramesIndependentOfChunking(t *testing.T) {
	pcm := make([]byte, 0, 1000*2)
	for _, s := range sine8k(1000, 440, 7000) {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
	}

	ref, _ := NewTranscoder(16000)
	want := ref.FromCanonical(pcm)

	for _, size := range []int{1, 3, 320, 641} {
		tc, _ := NewTranscoder(16000)
		var got []byte
		for i := 0; i < len(pcm); i += size {
			end := i + size
			if end > len(pcm) {
				end = len(pcm)
			}
			for _, f := range tc.FromCanonicalFrames(pcm[i:end]) {
				got = append(got, f...)
			}
		}
		for _, f := range tc.FlushFrames() {
			got = append(got, f...)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk size %d: outbound stream differs", size)
		}
	}
}

func TestOutboundMirrorsInboundPayloadType(t *testing.T) {
	tc, _ := NewTranscoder(16000)
	pcm, err := tc.ToCanonical(ulawStream(sine8k(160, 300, 5000), models.PayloadPCMA))
	if err != nil {
		t.Fatal(err)
	}
	frames := parseStream(t, tc.FromCanonical(pcm))
	if len(frames) != 1 || frames[0].PayloadType != models.PayloadPCMA {
		t.Fatalf("expected one PCMA packet, got %+v", frames)
	}
}

func TestUnsupportedPayloadType(t *testing.T) {
	tc, _ := NewTranscoder(16000)
	_, err := tc.ToCanonical(EncodePacket(18, 0, []byte{1, 2, 3}))
	if !utils.IsCode(err, utils.CodeUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	// the stream recovers on the next good chunk
	pcm, err := tc.ToCanonical(ulawStream(sine8k(160, 300, 5000), models.PayloadPCMU))
	if err != nil || len(pcm) != 160*4 {
		t.Fatalf("expected recovery, got %d bytes err=%v", len(pcm), err)
	}
}

func TestInvalidDeclaredLength(t *testing.T) {
	oversized := make([]byte, PacketHeaderLen)
	binary.BigEndian.PutUint16(oversized[3:5], MaxPacketPayload+1)

	for name, chunk := range map[string][]byte{
		"zero":      {0, 0, 0, 0, 0},
		"oversized": oversized,
	} {
		tc, _ := NewTranscoder(16000)
		if _, err := tc.ToCanonical(chunk); !utils.IsCode(err, utils.CodeUnsupportedFormat) {
			t.Fatalf("%s length: expected unsupported format, got %v", name, err)
		}
		// the bad header is dropped, so nothing is left to flush
		if err := tc.Flush(); err != nil {
			t.Fatalf("%s length: flush after resync = %v", name, err)
		}
		pcm, err := tc.ToCanonical(ulawStream(sine8k(160, 300, 5000), models.PayloadPCMU))
		if err != nil || len(pcm) != 160*4 {
			t.Fatalf("%s length: expected recovery, got %d bytes err=%v", name, len(pcm), err)
		}
	}
}

func TestTruncated(t *testing.T) {
	tc, _ := NewTranscoder(16000)
	partial := ulawStream(sine8k(160, 300, 5000), models.PayloadPCMU)[:100]
	if _, err := tc.ToCanonical(partial); err != nil {
		t.Fatalf("partial packet should be buffered, got %v", err)
	}
	if err := tc.Flush(); !utils.IsCode(err, utils.CodeTruncated) {
		t.Fatalf("flush: expected truncated, got %v", err)
	}
}

func TestConsecutiveBadChunksEscalate(t *testing.T) {
	tc, _ := NewTranscoder(16000)
	bad := EncodePacket(99, 0, []byte{1})
	good := ulawStream(sine8k(160, 300, 5000), models.PayloadPCMU)

	for i := 0; i < MaxConsecutiveBadChunks-1; i++ {
		if _, err := tc.ToCanonical(bad); utils.IsCode(err, utils.CodeAudioQualityFailure) {
			t.Fatalf("escalated too early at chunk %d", i)
		}
	}
	if _, err := tc.ToCanonical(good); err != nil {
		t.Fatalf("good chunk: %v", err)
	}
	for i := 0; i < MaxConsecutiveBadChunks-1; i++ {
		if _, err := tc.ToCanonical(bad); utils.IsCode(err, utils.CodeAudioQualityFailure) {
			t.Fatal("good chunk did not reset the counter")
		}
	}
	_, err := tc.ToCanonical(bad)
	if !utils.IsCode(err, utils.CodeAudioQualityFailure) {
		t.Fatalf("expected audio quality failure, got %v", err)
	}
}
