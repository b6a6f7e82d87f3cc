// Package audio holds the PCM and WAV helpers the speech providers share.
// All PCM is signed 16-bit little-endian, channels interleaved.
package audio

import "encoding/binary"

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

// DownmixMono16 averages interleaved channels into one. A trailing partial
// frame is dropped. Mono input is returned as is.
func DownmixMono16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for c := range channels {
			sum += int32(sampleAt(pcm, f*channels+c))
		}
		putSample(out, f, int16(sum/int32(channels)))
	}
	return out
}

// ResampleMono16 converts mono PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	n := len(pcm) / 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || n == 0 {
		return pcm
	}
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}
	step := float64(srcRate) / float64(dstRate)
	out := make([]byte, outN*2)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sampleAt(pcm, j+1))
		}
		t := pos - float64(j)
		putSample(out, i, int16(a+(b-a)*t))
	}
	return out
}

// Float32Mono16 scales mono PCM to float32 in [-1, 1], the input format of
// whisper.cpp. A trailing odd byte is ignored.
func Float32Mono16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768
	}
	return out
}
