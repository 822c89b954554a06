package rtsp

import "encoding/binary"

// lpcmPayloader converts little-endian PCM16 into the network byte order
// L16 payload. Callers split chunks to fit the MTU, so one call yields one
// payload.
type lpcmPayloader struct{}

func (lpcmPayloader) Payload(_ uint16, payload []byte) [][]byte {
	out := make([]byte, len(payload)-len(payload)%2)
	for i := 0; i+1 < len(payload); i += 2 {
		binary.BigEndian.PutUint16(out[i:], binary.LittleEndian.Uint16(payload[i:]))
	}
	return [][]byte{out}
}

// lpcmChunkBytes is the largest whole-frame PCM payload that fits in mtu.
func lpcmChunkBytes(mtu, channels int) int {
	frame := 2 * channels
	n := (mtu - rtpHeaderSize) / frame * frame
	return max(n, frame)
}
