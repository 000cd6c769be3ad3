package audio

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

const (
	// ChannelSampleRate is the G.711 rate used on the telephony side.
	ChannelSampleRate = 8000

	// PacketHeaderLen is [payloadType:1][seq:2][length:2].
	PacketHeaderLen = 5
	// MaxPacketPayload bounds a single packet (200 ms of G.711).
	MaxPacketPayload = 1600
	// OutboundPacketPayload is 20 ms of G.711 at 8 kHz.
	OutboundPacketPayload = 160

	// MaxConsecutiveBadChunks escalates to an audio quality failure.
	MaxConsecutiveBadChunks = 3
)

// Transcoder converts one channel's G.711 packet stream to canonical PCM and back.
// Each half is single-goroutine: the inbound side belongs to the channel reader
// and the outbound side to the playback path. They share only the payload type.
type Transcoder struct {
	factor int

	// inbound
	pending  []byte
	prev     int16
	havePrev bool
	badRun   int
	inPT     atomic.Uint32

	// outbound
	outOdd  []byte
	hist    [2]int16
	histLen int
	phase   int
	payload []byte
	outSeq  uint16
	outPT   uint8
}

// NewTranscoder validates canonicalRate against the channel rate. A mismatch is a
// configuration error and is reported before any call is accepted.
func NewTranscoder(canonicalRate int) (*Transcoder, error) {
	if canonicalRate <= 0 || canonicalRate%ChannelSampleRate != 0 {
		return nil, utils.E(utils.CodeInvalidArgument, "audio.NewTranscoder",
			fmt.Sprintf("canonical rate %d is not a multiple of %d", canonicalRate, ChannelSampleRate), nil)
	}
	t := &Transcoder{
		factor: canonicalRate / ChannelSampleRate,
		outPT:  models.PayloadPCMU,
	}
	t.inPT.Store(uint32(models.PayloadPCMU))
	return t, nil
}

// CanonicalRate returns the PCM rate produced by ToCanonical.
func (t *Transcoder) CanonicalRate() int { return t.factor * ChannelSampleRate }

// ToCanonical consumes an arbitrary slice of the channel stream. Complete packets
// are decoded; a trailing partial packet is kept until the next call.
func (t *Transcoder) ToCanonical(chunk []byte) ([]byte, error) {
	const op = "Transcoder.ToCanonical"

	t.pending = append(t.pending, chunk...)
	var out []byte
	consumed := 0

	for {
		rest := t.pending[consumed:]
		if len(rest) < PacketHeaderLen {
			break
		}
		frame, n, err := parsePacket(rest)
		if err != nil {
			// resynchronise on the next chunk
			t.pending = t.pending[:0]
			return out, t.chunkFailed(utils.E(utils.CodeOf(err), op, "unparseable chunk", err))
		}
		if n == 0 {
			break
		}
		out = t.decode(frame, out)
		consumed += n
	}

	t.pending = append(t.pending[:0], t.pending[consumed:]...)
	t.badRun = 0
	return out, nil
}

// Flush reports data left over from an incomplete packet at end of stream.
func (t *Transcoder) Flush() error {
	if len(t.pending) == 0 {
		return nil
	}
	n := len(t.pending)
	t.pending = t.pending[:0]
	return utils.E(utils.CodeTruncated, "Transcoder.Flush", fmt.Sprintf("%d bytes of incomplete packet dropped", n), nil)
}

func (t *Transcoder) chunkFailed(err error) error {
	t.badRun++
	if t.badRun >= MaxConsecutiveBadChunks {
		return utils.E(utils.CodeAudioQualityFailure, "Transcoder.ToCanonical",
			fmt.Sprintf("%d consecutive unparseable chunks", t.badRun), err)
	}
	return err
}

// parsePacket returns n == 0 when the packet is not complete yet.
func parsePacket(b []byte) (models.AudioFrame, int, error) {
	pt := b[0]
	if pt != models.PayloadPCMU && pt != models.PayloadPCMA {
		return models.AudioFrame{}, 0, utils.E(utils.CodeUnsupportedFormat, "audio.parsePacket",
			fmt.Sprintf("payload type %d", pt), nil)
	}
	// a zero or oversized length is a malformed header, not a short read;
	// TRUNCATED is kept for packets cut off at end of stream
	length := int(binary.BigEndian.Uint16(b[3:5]))
	if length == 0 || length > MaxPacketPayload {
		return models.AudioFrame{}, 0, utils.E(utils.CodeUnsupportedFormat, "audio.parsePacket",
			fmt.Sprintf("invalid payload length %d", length), nil)
	}
	if len(b) < PacketHeaderLen+length {
		return models.AudioFrame{}, 0, nil
	}
	return models.AudioFrame{
		PayloadType: pt,
		Seq:         binary.BigEndian.Uint16(b[1:3]),
		Payload:     b[PacketHeaderLen : PacketHeaderLen+length],
	}, PacketHeaderLen + length, nil
}

// decode expands G.711 to canonical PCM by linear interpolation. The previous
// sample is carried so chunk boundaries stay continuous.
func (t *Transcoder) decode(f models.AudioFrame, out []byte) []byte {
	t.inPT.Store(uint32(f.PayloadType))
	k := t.factor
	for _, b := range f.Payload {
		var s int16
		if f.PayloadType == models.PayloadPCMA {
			s = alawToLinear(b)
		} else {
			s = ulawToLinear(b)
		}
		if !t.havePrev {
			t.prev = s
			t.havePrev = true
		}
		for j := 1; j <= k; j++ {
			v := int(t.prev) + (int(s)-int(t.prev))*j/k
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
		}
		t.prev = s
	}
	return out
}

// FromCanonicalFrames encodes canonical PCM into 20 ms channel packets, using the
// payload type last seen inbound. Samples that do not complete a packet are kept
// until the next call or FlushFrames.
func (t *Transcoder) FromCanonicalFrames(pcm []byte) [][]byte {
	if len(t.payload) == 0 {
		t.outPT = uint8(t.inPT.Load())
	}
	data := pcm
	if len(t.outOdd) > 0 {
		data = append(append([]byte(nil), t.outOdd...), pcm...)
		t.outOdd = nil
	}
	if len(data)%2 == 1 {
		t.outOdd = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}

	var frames [][]byte
	for i := 0; i+1 < len(data); i += 2 {
		x := int16(binary.LittleEndian.Uint16(data[i:]))
		if y, ok := t.pushDown(x); ok {
			frames = t.emitSample(y, frames)
		}
	}
	return frames
}

// FlushFrames drains the resampler and emits the final short packet of a segment.
// Outbound state is reset so the next segment starts clean.
func (t *Transcoder) FlushFrames() [][]byte {
	var frames [][]byte
	if t.histLen > 0 {
		last := t.hist[1]
		if y, ok := t.pushDown(last); ok {
			frames = t.emitSample(y, frames)
		}
	}
	if len(t.payload) > 0 {
		frames = append(frames, t.packet(t.payload))
		t.payload = t.payload[:0]
	}
	t.outOdd = nil
	t.histLen = 0
	t.phase = 0
	return frames
}

// FromCanonical is FromCanonicalFrames followed by FlushFrames, as one byte stream.
func (t *Transcoder) FromCanonical(pcm []byte) []byte {
	frames := append(t.FromCanonicalFrames(pcm), t.FlushFrames()...)
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// pushDown runs a [1 2 1]/4 smoother one sample behind the input and picks the
// last sample of every group of factor samples.
func (t *Transcoder) pushDown(x int16) (int16, bool) {
	if t.factor == 1 {
		return x, true
	}
	switch t.histLen {
	case 0:
		t.hist = [2]int16{x, x}
		t.histLen = 1
		return 0, false
	case 1:
		// edge replicate: x[-1] = x[0]
		t.histLen = 2
	}
	y := int16((int(t.hist[0]) + 2*int(t.hist[1]) + int(x)) / 4)
	t.hist[0], t.hist[1] = t.hist[1], x

	t.phase++
	if t.phase == t.factor {
		t.phase = 0
		return y, true
	}
	return 0, false
}

func (t *Transcoder) emitSample(y int16, frames [][]byte) [][]byte {
	var b byte
	if t.outPT == models.PayloadPCMA {
		b = linearToALaw(y)
	} else {
		b = linearToULaw(y)
	}
	t.payload = append(t.payload, b)
	if len(t.payload) == OutboundPacketPayload {
		frames = append(frames, t.packet(t.payload))
		t.payload = t.payload[:0]
	}
	return frames
}

func (t *Transcoder) packet(payload []byte) []byte {
	p := make([]byte, PacketHeaderLen+len(payload))
	p[0] = t.outPT
	binary.BigEndian.PutUint16(p[1:3], t.outSeq)
	binary.BigEndian.PutUint16(p[3:5], uint16(len(payload)))
	copy(p[PacketHeaderLen:], payload)
	t.outSeq++
	return p
}

// EncodePacket frames raw G.711 payload the way the channel expects it.
func EncodePacket(pt uint8, seq uint16, payload []byte) []byte {
	p := make([]byte, PacketHeaderLen+len(payload))
	p[0] = pt
	binary.BigEndian.PutUint16(p[1:3], seq)
	binary.BigEndian.PutUint16(p[3:5], uint16(len(payload)))
	copy(p[PacketHeaderLen:], payload)
	return p
}

// EncodeULaw converts 8 kHz linear samples to G.711 µ-law bytes.
func EncodeULaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToULaw(s)
	}
	return out
}

// DecodeULaw converts G.711 µ-law bytes to linear samples.
func DecodeULaw(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, u := range b {
		out[i] = ulawToLinear(u)
	}
	return out
}
