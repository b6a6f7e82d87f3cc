// Package render turns a session transcript into a view for a front end:
// the text of every turn plus synthesized speech for the assistant's
// optimized sentence and conversational reply.
//
// Only the interaction clip of the newest turn may autoplay, and only once
// per distinct reply. Optimized-sentence clips are always manual. A clip
// whose synthesis fails is left out of the view and never marks anything as
// played.
package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

// Defaults for [New].
const (
	DefaultConcurrency      = 4
	DefaultCacheSize        = 256
	DefaultSynthesisTimeout = time.Minute
)

// Clip is one synthesized audio control.
type Clip struct {
	Field    string `json:"field"`
	MIMEType string `json:"mime_type"`
	// Data is the base64-encoded audio.
	Data     string `json:"data"`
	Autoplay bool   `json:"autoplay"`
}

// Turn is the rendered form of one transcript entry.
type Turn struct {
	Index      int          `json:"index"`
	Role       session.Role `json:"role"`
	Text       string       `json:"text,omitempty"`
	Similarity float64      `json:"similarity,omitempty"`

	Correction    string   `json:"correction,omitempty"`
	OptimizedText string   `json:"optimized_text,omitempty"`
	Interaction   string   `json:"interaction,omitempty"`
	Tips          []string `json:"tips,omitempty"`

	OptimizedAudio   *Clip `json:"optimized_audio,omitempty"`
	InteractionAudio *Clip `json:"interaction_audio,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// View is a rendered session.
type View struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	VoiceID   string `json:"voice_id"`
	Turns     []Turn `json:"turns"`

	// Warnings are learner-facing messages for clips that could not be
	// synthesized.
	Warnings []string `json:"warnings,omitempty"`

	// Errors holds one [*tutor.SynthesisError] per omitted clip.
	Errors []error `json:"-"`
}

// Autoplay returns the clip marked for autoplay, or nil.
func (v *View) Autoplay() *Clip {
	if len(v.Turns) == 0 {
		return nil
	}
	if c := v.Turns[len(v.Turns)-1].InteractionAudio; c != nil && c.Autoplay {
		return c
	}
	return nil
}

// Option is a functional option for [New].
type Option func(*Renderer)

// WithCatalog sets the language catalogue used to pick the session voice.
func WithCatalog(c *language.Catalog) Option {
	return func(r *Renderer) { r.catalog = c }
}

// WithConcurrency bounds the number of clips synthesized at once.
func WithConcurrency(n int) Option {
	return func(r *Renderer) { r.concurrency = n }
}

// WithCacheSize sets how many clips are kept in memory. Zero disables the
// cache.
func WithCacheSize(n int) Option {
	return func(r *Renderer) { r.cache = newClipCache(n) }
}

// WithSynthesisTimeout bounds one provider call. Defaults to
// [DefaultSynthesisTimeout].
func WithSynthesisTimeout(d time.Duration) Option {
	return func(r *Renderer) { r.timeout = d }
}

// WithAudioWindow limits synthesis to the newest n assistant turns. Older
// turns are rendered as text only. Zero renders audio for every turn.
func WithAudioWindow(n int) Option {
	return func(r *Renderer) { r.window = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Renderer) { r.metrics = m }
}

// Renderer builds views. It is safe for concurrent use.
type Renderer struct {
	tts         tts.Provider
	catalog     *language.Catalog
	metrics     *observe.Metrics
	cache       *clipCache
	flight      singleflight.Group
	concurrency int
	window      int
	timeout     time.Duration
}

// New returns a Renderer. p may be nil, in which case views carry no audio.
func New(p tts.Provider, opts ...Option) *Renderer {
	r := &Renderer{
		tts:         p,
		cache:       newClipCache(DefaultCacheSize),
		concurrency: DefaultConcurrency,
		timeout:     DefaultSynthesisTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.catalog == nil {
		r.catalog = language.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.timeout <= 0 {
		r.timeout = DefaultSynthesisTimeout
	}
	return r
}

// Voice resolves the synthesis voice for a session voice selection.
func (r *Renderer) Voice(vc session.VoiceConfig) tts.VoiceProfile {
	lang, v := r.catalog.Select(vc.Language, vc.VoiceID)
	return tts.VoiceProfile{ID: v.ID, Name: v.Name, Language: lang.Locale}
}

type job struct {
	turn  int
	clip  session.Clip
	text  string
	audio []byte
	err   error
}

// Render loads the transcript of sess and renders it. Synthesis failures are
// reported in [View.Errors] and never fail the render; only a transcript
// load error does.
func (r *Renderer) Render(ctx context.Context, sess *session.Session) (*View, error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, sess.ID()), "render.view")
	defer span.End()

	turns, err := sess.Turns(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	vc := sess.Voice()
	voice := r.Voice(vc)
	lang := r.catalog.Resolve(vc.Language)

	view := &View{
		SessionID: sess.ID(),
		Language:  lang.Code,
		VoiceID:   voice.ID,
		Turns:     make([]Turn, len(turns)),
	}
	for i, t := range turns {
		view.Turns[i] = textTurn(i, t)
	}

	jobs := r.plan(turns)
	span.SetAttributes(attribute.Int("turns", len(turns)), attribute.Int("clips", len(jobs)))
	r.synthesizeAll(ctx, jobs, voice)

	last := len(turns) - 1
	for _, j := range jobs {
		if j.err != nil {
			serr := &tutor.SynthesisError{Clip: j.clip, Err: j.err}
			view.Errors = append(view.Errors, serr)
			view.Warnings = append(view.Warnings, fmt.Sprintf("Turn %d: %s", j.turn+1, tutor.UserMessage(serr)))
			observe.Logger(ctx).Warn("render: clip omitted",
				"turn", j.turn, "field", j.clip.String(), "error", j.err)
			continue
		}
		if len(j.audio) == 0 {
			continue
		}
		clip := &Clip{
			Field:    j.clip.String(),
			MIMEType: r.tts.MIMEType(),
			Data:     base64.StdEncoding.EncodeToString(j.audio),
		}
		switch j.clip {
		case session.ClipOptimized:
			view.Turns[j.turn].OptimizedAudio = clip
		case session.ClipInteraction:
			view.Turns[j.turn].InteractionAudio = clip
			if j.turn == last {
				clip.Autoplay = r.claim(ctx, sess, j, last)
			}
		}
	}
	return view, nil
}

// plan lists the clips to synthesize, oldest first.
func (r *Renderer) plan(turns []session.Turn) []*job {
	if r.tts == nil {
		return nil
	}
	var jobs []*job
	remaining := r.window
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != session.RoleAssistant || t.Reply == nil {
			continue
		}
		if r.window > 0 {
			if remaining == 0 {
				break
			}
			remaining--
		}
		if !tts.Blank(t.Reply.Interaction) {
			jobs = append(jobs, &job{turn: i, clip: session.ClipInteraction, text: t.Reply.Interaction})
		}
		if !tts.Blank(t.Reply.OptimizedText) {
			jobs = append(jobs, &job{turn: i, clip: session.ClipOptimized, text: t.Reply.OptimizedText})
		}
	}
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs
}

func (r *Renderer) synthesizeAll(ctx context.Context, jobs []*job, voice tts.VoiceProfile) {
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			j.audio, j.err = r.Synthesize(ctx, j.text, voice)
			return nil
		})
	}
	_ = g.Wait()
}

// Synthesize voices text. Blank text returns nil, nil without calling the
// provider. Concurrent requests for the same text and voice share one
// provider call, and results are cached.
//
// The shared call does not inherit the cancellation of whichever caller
// started it; it is bounded by the synthesis timeout instead. A caller whose
// ctx ends stops waiting and gets ctx.Err() while the others still receive
// the clip.
func (r *Renderer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if tts.Blank(text) || r.tts == nil {
		return nil, nil
	}
	key := voice.ID + "\x00" + voice.Language + "\x00" + string(session.FingerprintText(text))
	if audio, ok := r.cache.get(key); ok {
		return audio, nil
	}
	ch := r.flight.DoChan(key, func() (any, error) {
		if audio, ok := r.cache.get(key); ok {
			return audio, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.synthesize(fctx, key, text, voice)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Renderer) synthesize(ctx context.Context, key, text string, voice tts.VoiceProfile) ([]byte, error) {
	ctx, stage := observe.StartStage(ctx, "synthesize", r.metrics.TTSDuration)
	audio, err := r.tts.Synthesize(ctx, text, voice)
	if err == nil && len(audio) == 0 {
		err = tts.ErrNoAudio
	}
	stage.End(ctx, err)
	if err != nil {
		return nil, err
	}
	r.cache.put(key, audio)
	return audio, nil
}

func (r *Renderer) claim(ctx context.Context, sess *session.Session, j *job, last int) bool {
	ok, err := sess.ClaimAutoplay(ctx, j.clip, j.turn, last, session.FingerprintText(j.text))
	if err != nil {
		observe.Logger(ctx).Warn("render: autoplay marker", "error", err)
		return false
	}
	if ok {
		r.metrics.RecordAutoplay(ctx, j.clip.String())
	}
	return ok
}

// AudioUnavailable is the warning of a [TextView].
const AudioUnavailable = "Audio is unavailable right now."

// TextView builds a view of turns without loading the transcript or
// synthesizing anything. Front ends use it to still show a recorded turn
// when [Renderer.Render] fails.
func TextView(sessionID string, turns ...session.Turn) *View {
	view := &View{SessionID: sessionID, Turns: make([]Turn, len(turns)), Warnings: []string{AudioUnavailable}}
	for i, t := range turns {
		view.Turns[i] = textTurn(i, t)
	}
	return view
}

func textTurn(i int, t session.Turn) Turn {
	out := Turn{Index: i, Role: t.Role, CreatedAt: t.CreatedAt}
	if t.Role == session.RoleUser || t.Reply == nil {
		out.Text = t.Text
		out.Similarity = t.Similarity
		return out
	}
	out.Correction = t.Reply.Correction
	out.OptimizedText = t.Reply.OptimizedText
	out.Interaction = t.Reply.Interaction
	out.Tips = Tips(t.Reply.Expansion)
	return out
}

// Tips numbers the expansion suggestions for display.
func Tips(expansion []string) []string {
	if len(expansion) == 0 {
		return nil
	}
	out := make([]string, len(expansion))
	for i, s := range expansion {
		out[i] = strconv.Itoa(i+1) + ". " + s
	}
	return out
}
