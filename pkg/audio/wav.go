package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// PCM is decoded 16-bit little-endian interleaved audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit integer PCM. Chunks
// other than "fmt " and "data" are skipped. A data chunk whose declared size
// overruns the buffer is truncated to what is present, which is what most
// browser recorders produce when they stream a header before the length is
// known.
func DecodeWAV(b []byte) (PCM, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return PCM{}, ErrNotWAV
	}

	var (
		out       PCM
		haveFmt   bool
		bitsPerSm int
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(b) || size < 0 {
			end = len(b)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return PCM{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", end-body)
			}
			format := binary.LittleEndian.Uint16(b[body:])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; its sub-format is PCM for
			// everything browsers emit.
			if format != 1 && format != 0xFFFE {
				return PCM{}, fmt.Errorf("audio: wav format %d is not integer PCM", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			out.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bitsPerSm = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("audio: wav data chunk precedes fmt chunk")
			}
			if bitsPerSm != 16 {
				return PCM{}, fmt.Errorf("audio: wav has %d bits per sample, want 16", bitsPerSm)
			}
			out.Data = b[body:end]
			if out.Channels <= 0 || out.SampleRate <= 0 {
				return PCM{}, fmt.Errorf("audio: wav declares %d channels at %d Hz", out.Channels, out.SampleRate)
			}
			return out, nil
		}

		// Chunks are word aligned.
		off = end + size%2
	}
	return PCM{}, fmt.Errorf("audio: wav has no data chunk")
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(p PCM) []byte {
	const bps = 16
	byteRate := p.SampleRate * p.Channels * bps / 8
	blockAlign := p.Channels * bps / 8
	dataSize := len(p.Data)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], p.Data)
	return buf
}
