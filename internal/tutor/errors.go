package tutor

import (
	"errors"
	"fmt"

	"github.com/MrWong99/oraltutor/internal/session"
)

var (
	// ErrInputTooShort is returned when a recording is below the minimum
	// size or a typed message is blank.
	ErrInputTooShort = errors.New("tutor: input too short")

	// ErrTranscriptionEmpty is returned when speech could not be turned into
	// usable text.
	ErrTranscriptionEmpty = errors.New("tutor: transcription empty")

	// ErrGenerationFailed is returned when the language model could not
	// produce a usable reply.
	ErrGenerationFailed = errors.New("tutor: generation failed")

	// ErrDuplicateInput is returned when a recording is byte-identical to the
	// previous one. It is a skip, not a failure.
	ErrDuplicateInput = errors.New("tutor: duplicate input skipped")

	// ErrMalformedReply is returned by [ParseReply] when the content is not a
	// JSON object.
	ErrMalformedReply = errors.New("tutor: reply is not a JSON object")

	// ErrBusy is returned when a turn is already in flight for the session.
	ErrBusy = session.ErrBusy
)

// SynthesisError reports that one reply field could not be voiced. It never
// aborts a turn; the field is shown without its audio control.
type SynthesisError struct {
	// Clip is the field that failed.
	Clip session.Clip

	// Err is the provider error.
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tutor: synthesize %s: %v", e.Clip, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// UserMessage maps an error from [Processor.Process] or the render layer to
// a short learner-facing warning. Duplicate input maps to "" because it is
// skipped silently.
func UserMessage(err error) string {
	var synth *SynthesisError
	switch {
	case err == nil, errors.Is(err, ErrDuplicateInput):
		return ""
	case errors.Is(err, ErrInputTooShort):
		return "The recording is too short. Hold the button and record a complete sentence."
	case errors.Is(err, ErrTranscriptionEmpty):
		return "Your speech could not be recognised. Please try again."
	case errors.Is(err, ErrGenerationFailed):
		return "The tutor could not answer this time. Please send your sentence again."
	case errors.Is(err, ErrBusy):
		return "Still working on your previous sentence. Please wait a moment."
	case errors.As(err, &synth):
		return "Audio is unavailable for this part of the reply."
	default:
		return "Something went wrong. Please try again."
	}
}
