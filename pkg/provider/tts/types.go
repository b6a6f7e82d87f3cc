package tts

// VoiceProfile describes a TTS voice selection.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "ja-JP-NanamiNeural").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 locale the voice speaks (e.g., "ja-JP").
	Language string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default; 0 is treated
	// as 1.0).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}
