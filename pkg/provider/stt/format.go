package stt

import (
	"bytes"
	"mime"
	"strings"
)

// Format names an audio container.
type Format string

// Known containers. FormatUnknown lets providers pick their own default.
const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatOgg     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatM4A     Format = "m4a"
)

// DetectFormat sniffs the container from its leading magic bytes.
func DetectFormat(b []byte) Format {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(b, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(b, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(b, []byte("ID3")):
		return FormatMP3
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp")):
		return FormatM4A
	}
	return FormatUnknown
}

// FormatFromMIME maps a Content-Type such as "audio/webm;codecs=opus" to a
// Format. Unrecognised types yield FormatUnknown.
func FormatFromMIME(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return FormatWAV
	case "audio/ogg", "audio/opus", "application/ogg":
		return FormatOgg
	case "audio/webm", "video/webm":
		return FormatWebM
	case "audio/mpeg", "audio/mp3":
		return FormatMP3
	case "audio/flac", "audio/x-flac":
		return FormatFLAC
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return FormatM4A
	}
	return FormatUnknown
}

// Resolve returns f when it is known, otherwise the format sniffed from b.
func (f Format) Resolve(b []byte) Format {
	if f != FormatUnknown {
		return f
	}
	return DetectFormat(b)
}

// MIMEType returns the canonical media type for f. Unknown formats report
// "application/octet-stream".
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatOgg:
		return "audio/ogg"
	case FormatWebM:
		return "audio/webm"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatM4A:
		return "audio/mp4"
	}
	return "application/octet-stream"
}

// Filename returns an upload filename whose extension matches f. Unknown
// formats are named "audio.wav", which is what browser recorders and the
// Whisper API agree on most often.
func (f Format) Filename() string {
	if f == FormatUnknown {
		return "audio.wav"
	}
	return "audio." + string(f)
}
