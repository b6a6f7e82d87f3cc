package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/oraltutor/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmixMono16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
		{"three channels", []int16{30, 60, 90}, 3, []int16{60}},
		{"no overflow", []int16{32767, 32767}, 2, []int16{32767}},
		{"partial frame dropped", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := bytesToSamples(audio.DownmixMono16(samplesToBytes(tc.in), tc.channels))
			if len(got) != len(tc.want) {
				t.Fatalf("length = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3, 4})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("expected input slice to be returned unchanged")
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 48 kHz to 16 kHz keeps every third sample.
	in := samplesToBytes([]int16{0, 1, 2, 300, 4, 5, 600, 7, 8})
	got := bytesToSamples(audio.ResampleMono16(in, 48000, 16000))
	want := []int16{0, 300, 600}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_UpsampleInterpolates(t *testing.T) {
	in := samplesToBytes([]int16{0, 100})
	got := bytesToSamples(audio.ResampleMono16(in, 8000, 16000))
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32Mono16(t *testing.T) {
	got := audio.Float32Mono16(samplesToBytes([]int16{0, 16384, -32768}))
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := audio.PCM{Data: samplesToBytes([]int16{1, -1, 2, -2}), SampleRate: 22050, Channels: 2}
	got, err := audio.DecodeWAV(audio.EncodeWAV(pcm))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.SampleRate != 22050 || got.Channels != 2 {
		t.Errorf("format = %d Hz / %d ch, want 22050 Hz / 2 ch", got.SampleRate, got.Channels)
	}
	if string(got.Data) != string(pcm.Data) {
		t.Errorf("data = %v, want %v", got.Data, pcm.Data)
	}
}

func TestDecodeWAV_SkipsUnknownChunksAndTruncates(t *testing.T) {
	wav := audio.EncodeWAV(audio.PCM{Data: samplesToBytes([]int16{7, 8, 9}), SampleRate: 16000, Channels: 1})

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
	// Claim a much larger data chunk than present.
	binary.LittleEndian.PutUint32(withList[36+len(list)+4:], 1<<20)

	got, err := audio.DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if s := bytesToSamples(got.Data); len(s) != 3 || s[2] != 9 {
		t.Errorf("samples = %v, want [7 8 9]", s)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	eightBit := audio.EncodeWAV(audio.PCM{Data: []byte{1, 2}, SampleRate: 8000, Channels: 1})
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	float := audio.EncodeWAV(audio.PCM{Data: []byte{1, 2}, SampleRate: 8000, Channels: 1})
	binary.LittleEndian.PutUint16(float[20:], 3)

	tests := []struct {
		name    string
		in      []byte
		wantNot bool
	}{
		{"not riff", []byte("OggS\x00\x02 definitely not wav"), true},
		{"too short", []byte("RIFF"), true},
		{"8-bit", eightBit, false},
		{"float", float, false},
		{"no data", audio.EncodeWAV(audio.PCM{SampleRate: 8000, Channels: 1})[:36], false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audio.DecodeWAV(tc.in)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, audio.ErrNotWAV); got != tc.wantNot {
				t.Errorf("errors.Is(ErrNotWAV) = %v, want %v (err=%v)", got, tc.wantNot, err)
			}
		})
	}
}
