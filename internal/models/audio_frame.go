package models

// G.711 payload types as used on RTP.
const (
	PayloadPCMU uint8 = 0
	PayloadPCMA uint8 = 8
)

// AudioFrame is one compressed unit from the channel stream. Never persisted.
type AudioFrame struct {
	PayloadType uint8
	Seq         uint16
	Payload     []byte
}
