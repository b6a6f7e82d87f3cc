package session

// Clip names the synthesized field of an assistant turn.
type Clip int

const (
	// ClipOptimized is the optimized-sentence clip. It is a manual control
	// and never autoplays.
	ClipOptimized Clip = iota

	// ClipInteraction is the conversational reply clip.
	ClipInteraction
)

// String returns the field name of the clip.
func (c Clip) String() string {
	switch c {
	case ClipOptimized:
		return "optimized_text"
	case ClipInteraction:
		return "interaction"
	default:
		return "unknown"
	}
}

// ShouldAutoplay decides whether a clip plays without user action. Only the
// interaction clip of the turn at lastIndex autoplays, and only when its
// fingerprint differs from the playback marker.
func ShouldAutoplay(clip Clip, turnIndex, lastIndex int, fp, marker Fingerprint) bool {
	if clip != ClipInteraction {
		return false
	}
	if turnIndex != lastIndex || turnIndex < 0 {
		return false
	}
	if fp.IsZero() {
		return false
	}
	return fp != marker
}
