// Package tutor implements the tutoring turn: it validates a learner
// utterance, transcribes speech, asks the language model for a structured
// reply, normalizes it, and appends the user and assistant turns to the
// session transcript.
//
// Turns are all-or-nothing. Any failure before the append leaves the
// transcript untouched, so the learner can simply try again.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/shadow"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// Default input thresholds.
const (
	DefaultMinAudioBytes      = 1500
	DefaultMinTranscriptRunes = 2
)

// Mode is the input modality of a turn.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// Input is one learner utterance.
type Input struct {
	Mode Mode

	// Audio is the recorded utterance for ModeVoice. It is treated as an
	// opaque container and forwarded to the transcriber.
	Audio []byte

	// Format is the container format of Audio when known from the transport
	// (e.g. the request Content-Type). Sniffed from the bytes otherwise.
	Format stt.Format

	// Text is the typed utterance for ModeText.
	Text string
}

// Result is the outcome of a successful turn.
type Result struct {
	// User and Assistant are the two turns that were appended.
	User      session.Turn
	Assistant session.Turn

	// Transcript is the recognizer output. Zero for ModeText.
	Transcript stt.Transcript

	// Language is the target language the turn was generated for.
	Language language.Language
}

// Option is a functional option for [NewProcessor].
type Option func(*Processor)

// WithMinAudioBytes overrides [DefaultMinAudioBytes].
func WithMinAudioBytes(n int) Option {
	return func(p *Processor) { p.minAudio = n }
}

// WithMinTranscriptRunes overrides [DefaultMinTranscriptRunes].
func WithMinTranscriptRunes(n int) Option {
	return func(p *Processor) { p.minRunes = n }
}

// WithCatalog sets the language catalogue used to resolve the session
// language. Defaults to [language.Default].
func WithCatalog(c *language.Catalog) Option {
	return func(p *Processor) { p.catalog = c }
}

// WithShadowScorer enables read-along scoring of user turns. Nil disables it.
func WithShadowScorer(s *shadow.Scorer) Option {
	return func(p *Processor) { p.shadow = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// Processor runs tutoring turns. A single Processor serves any number of
// sessions concurrently; turns within one session are serialized by the
// session busy gate.
type Processor struct {
	stt      stt.Provider
	gen      Generator
	catalog  *language.Catalog
	shadow   *shadow.Scorer
	metrics  *observe.Metrics
	minAudio int
	minRunes int
}

// NewProcessor returns a Processor. transcriber may be nil for text-only
// deployments, in which case voice turns fail with [ErrTranscriptionEmpty].
func NewProcessor(transcriber stt.Provider, gen Generator, opts ...Option) (*Processor, error) {
	if gen == nil {
		return nil, errors.New("tutor: generator must not be nil")
	}
	p := &Processor{
		stt:      transcriber,
		gen:      gen,
		minAudio: DefaultMinAudioBytes,
		minRunes: DefaultMinTranscriptRunes,
	}
	for _, o := range opts {
		o(p)
	}
	if p.catalog == nil {
		p.catalog = language.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Catalog returns the language catalogue in use.
func (p *Processor) Catalog() *language.Catalog { return p.catalog }

// Process runs one turn for sess. On success exactly two turns (user, then
// assistant) have been appended. On any error nothing has been appended.
//
// Errors: [ErrInputTooShort], [ErrBusy], [ErrDuplicateInput],
// [ErrTranscriptionEmpty], [ErrGenerationFailed], or a wrapped store error.
func (p *Processor) Process(ctx context.Context, sess *session.Session, in Input) (res Result, err error) {
	start := time.Now()
	ctx = observe.WithSession(ctx, sess.ID())
	ctx, span := observe.StartSpan(ctx, "tutor.turn",
		trace.WithAttributes(attribute.String("mode", string(in.Mode))),
	)
	defer func() {
		outcome := Outcome(err)
		p.metrics.RecordTurn(ctx, string(in.Mode), outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil && outcome != observe.OutcomeDuplicate {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if err := p.validate(in); err != nil {
		return Result{}, err
	}

	release, err := sess.Begin()
	if err != nil {
		return Result{}, err
	}
	defer release()

	lang := p.catalog.Resolve(sess.Voice().Language)
	log := observe.Logger(ctx).With("language", lang.Code)

	text := strings.TrimSpace(in.Text)
	if in.Mode == ModeVoice {
		if !sess.RecordInput(session.FingerprintOf(in.Audio)) {
			log.Debug("duplicate recording skipped", "bytes", len(in.Audio))
			return Result{}, ErrDuplicateInput
		}
		res.Transcript, err = p.transcribe(ctx, in, lang)
		if err != nil {
			log.Info("transcription unusable", "error", err)
			return Result{}, err
		}
		text = strings.TrimSpace(res.Transcript.Text)
	}

	user := session.UserTurn(text)
	if p.shadow != nil {
		user.Similarity = p.shadowScore(ctx, sess, text, lang)
	}

	reply, err := p.generate(ctx, text, lang)
	if err != nil {
		log.Warn("reply generation failed", "error", err)
		return Result{}, err
	}
	assistant := session.AssistantTurn(reply)

	if err := sess.Append(ctx, user, assistant); err != nil {
		return Result{}, fmt.Errorf("tutor: record turn: %w", err)
	}

	log.Info("turn processed",
		"mode", in.Mode,
		"similarity", user.Similarity,
		"duration", time.Since(start),
	)
	res.User, res.Assistant, res.Language = user, assistant, lang
	return res, nil
}

func (p *Processor) validate(in Input) error {
	switch in.Mode {
	case ModeVoice:
		if len(in.Audio) < p.minAudio {
			return fmt.Errorf("%w: %d bytes of audio, need at least %d", ErrInputTooShort, len(in.Audio), p.minAudio)
		}
	case ModeText:
		if strings.TrimSpace(in.Text) == "" {
			return fmt.Errorf("%w: empty message", ErrInputTooShort)
		}
	default:
		return fmt.Errorf("tutor: unknown input mode %q", in.Mode)
	}
	return nil
}

func (p *Processor) transcribe(ctx context.Context, in Input, lang language.Language) (stt.Transcript, error) {
	if p.stt == nil {
		return stt.Transcript{}, fmt.Errorf("%w: no transcriber configured", ErrTranscriptionEmpty)
	}
	ctx, stage := observe.StartStage(ctx, "transcribe", p.metrics.STTDuration)
	tr, err := p.stt.Transcribe(ctx, in.Audio, stt.Options{
		Language: lang.Locale,
		Format:   in.Format.Resolve(in.Audio),
	})
	stage.End(ctx, err)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: %w", ErrTranscriptionEmpty, err)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(tr.Text)); n < p.minRunes {
		return stt.Transcript{}, fmt.Errorf("%w: recognised %d characters", ErrTranscriptionEmpty, n)
	}
	return tr, nil
}

func (p *Processor) generate(ctx context.Context, text string, lang language.Language) (session.Reply, error) {
	ctx, stage := observe.StartStage(ctx, "generate", p.metrics.LLMDuration)
	reply, err := p.gen.Generate(ctx, text, lang)
	stage.End(ctx, err)
	if err != nil {
		if !errors.Is(err, ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return session.Reply{}, err
	}
	return reply, nil
}

// shadowScore compares text with the optimized sentence of the newest
// assistant turn. It returns 0 when there is none or the score is below
// the threshold.
func (p *Processor) shadowScore(ctx context.Context, sess *session.Session, text string, lang language.Language) float64 {
	turns, err := sess.Turns(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("shadow: load transcript", "error", err)
		return 0
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != session.RoleAssistant || t.Reply == nil {
			continue
		}
		if t.Reply.OptimizedText == "" {
			return 0
		}
		score, ok := p.shadow.Score(text, t.Reply.OptimizedText)
		if !ok {
			return 0
		}
		p.metrics.RecordShadowRead(ctx, lang.Code)
		return score
	}
	return 0
}

// Outcome classifies a Process error into an [observe] outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeOK
	case errors.Is(err, ErrInputTooShort):
		return observe.OutcomeInputTooShort
	case errors.Is(err, ErrDuplicateInput):
		return observe.OutcomeDuplicate
	case errors.Is(err, ErrBusy):
		return observe.OutcomeBusy
	case errors.Is(err, ErrTranscriptionEmpty):
		return observe.OutcomeTranscriptionEmpty
	case errors.Is(err, ErrGenerationFailed):
		return observe.OutcomeGenerationFailed
	default:
		return observe.OutcomeError
	}
}
