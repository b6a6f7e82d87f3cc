// Package language holds the catalogue of target languages a learner can
// practise and the neural voices the tutor can speak each of them with.
//
// The built-in catalogue covers English, Japanese, Korean, German and French.
// Configuration may add languages or replace the voices of a built-in one via
// [Catalog.Merge]. Lookups never fail: an unknown code resolves to the
// fallback language (English), and an unknown voice resolves to the first
// voice of the resolved language.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// FallbackCode is the code of the language used when a lookup misses.
const FallbackCode = "en"

// Voice is one selectable speaking voice.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g. "en-US-AvaMultilingualNeural").
	ID string `yaml:"id" json:"id"`

	// Name is the short display name (e.g. "Ava (US)").
	Name string `yaml:"name" json:"name"`
}

// Language describes one practice language.
type Language struct {
	// Code is the lowercase ISO-639-1 code used as the catalogue key.
	Code string `yaml:"code" json:"code"`

	// Name is the English name passed to the prompt template (e.g. "Japanese").
	Name string `yaml:"name" json:"name"`

	// NativeName is the endonym shown in pickers (e.g. "日本語").
	NativeName string `yaml:"native_name" json:"native_name"`

	// Locale is the BCP-47 tag handed to transcribers (e.g. "ja-JP").
	Locale string `yaml:"locale" json:"locale"`

	// Voices lists the available voices. The first entry is the default.
	Voices []Voice `yaml:"voices" json:"voices"`
}

// DefaultVoice returns the first configured voice, or the zero Voice when the
// language has none.
func (l Language) DefaultVoice() Voice {
	if len(l.Voices) == 0 {
		return Voice{}
	}
	return l.Voices[0]
}

// Voice returns the voice with the given ID, falling back to [Language.DefaultVoice].
// The second return value reports whether id matched.
func (l Language) Voice(id string) (Voice, bool) {
	for _, v := range l.Voices {
		if strings.EqualFold(v.ID, id) {
			return v, true
		}
	}
	return l.DefaultVoice(), false
}

// Label returns "Name (NativeName)", or just Name when both are equal.
func (l Language) Label() string {
	if l.NativeName == "" || l.NativeName == l.Name {
		return l.Name
	}
	return l.Name + " (" + l.NativeName + ")"
}

// Builtin returns the built-in language list in display order.
func Builtin() []Language {
	return []Language{
		{
			Code: "en", Name: "English", NativeName: "English", Locale: "en-US",
			Voices: []Voice{
				{ID: "en-US-AvaMultilingualNeural", Name: "Ava (US)"},
				{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (US)"},
				{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)"},
			},
		},
		{
			Code: "ja", Name: "Japanese", NativeName: "日本語", Locale: "ja-JP",
			Voices: []Voice{
				{ID: "ja-JP-NanamiNeural", Name: "Nanami"},
				{ID: "ja-JP-KeitaNeural", Name: "Keita"},
			},
		},
		{
			Code: "ko", Name: "Korean", NativeName: "한국어", Locale: "ko-KR",
			Voices: []Voice{
				{ID: "ko-KR-SunHiNeural", Name: "Sun-Hi"},
				{ID: "ko-KR-InJoonNeural", Name: "In-Joon"},
			},
		},
		{
			Code: "de", Name: "German", NativeName: "Deutsch", Locale: "de-DE",
			Voices: []Voice{
				{ID: "de-DE-KatjaNeural", Name: "Katja"},
				{ID: "de-DE-KillianNeural", Name: "Killian"},
			},
		},
		{
			Code: "fr", Name: "French", NativeName: "Français", Locale: "fr-FR",
			Voices: []Voice{
				{ID: "fr-FR-DeniseNeural", Name: "Denise"},
				{ID: "fr-FR-EloiseNeural", Name: "Eloise"},
			},
		},
	}
}

// Catalog is an immutable, ordered set of languages. It is safe for
// concurrent use.
type Catalog struct {
	langs  []Language
	byCode map[string]int
}

// Default returns a Catalog holding [Builtin].
func Default() *Catalog {
	c, err := New(Builtin())
	if err != nil {
		panic(err) // builtin table is static
	}
	return c
}

// New builds a Catalog from langs. Codes are normalised to lowercase. Every
// language needs a code, a name and at least one voice, and codes must be
// unique. All problems are reported together.
func New(langs []Language) (*Catalog, error) {
	c := &Catalog{byCode: make(map[string]int, len(langs))}
	var errs []error
	for i, l := range langs {
		l.Code = strings.ToLower(strings.TrimSpace(l.Code))
		if err := validate(l); err != nil {
			errs = append(errs, fmt.Errorf("language: languages[%d]: %w", i, err))
			continue
		}
		if _, dup := c.byCode[l.Code]; dup {
			errs = append(errs, fmt.Errorf("language: languages[%d]: duplicate code %q", i, l.Code))
			continue
		}
		if l.Locale == "" {
			l.Locale = l.Code
		}
		if l.NativeName == "" {
			l.NativeName = l.Name
		}
		l.Voices = append([]Voice(nil), l.Voices...)
		c.byCode[l.Code] = len(c.langs)
		c.langs = append(c.langs, l)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(c.langs) == 0 {
		return nil, errors.New("language: catalogue must not be empty")
	}
	return c, nil
}

func validate(l Language) error {
	var errs []error
	if l.Code == "" {
		errs = append(errs, errors.New("code must not be empty"))
	}
	if strings.TrimSpace(l.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if len(l.Voices) == 0 {
		errs = append(errs, errors.New("at least one voice is required"))
	}
	for j, v := range l.Voices {
		if strings.TrimSpace(v.ID) == "" {
			errs = append(errs, fmt.Errorf("voices[%d]: id must not be empty", j))
		}
	}
	return errors.Join(errs...)
}

// Merge returns a new Catalog where each override replaces the built-in
// language with the same code and any other override is appended. The
// receiver is not modified.
func (c *Catalog) Merge(overrides []Language) (*Catalog, error) {
	merged := append([]Language(nil), c.langs...)
	for _, o := range overrides {
		code := strings.ToLower(strings.TrimSpace(o.Code))
		if i, ok := c.byCode[code]; ok {
			merged[i] = o
			continue
		}
		merged = append(merged, o)
	}
	return New(merged)
}

// Languages returns a copy of the catalogue in display order.
func (c *Catalog) Languages() []Language {
	return append([]Language(nil), c.langs...)
}

// Lookup finds a language by code, locale ("ja-JP") or English name,
// case-insensitively.
func (c *Catalog) Lookup(key string) (Language, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return Language{}, false
	}
	if i, ok := c.byCode[key]; ok {
		return c.langs[i], true
	}
	if i := strings.IndexAny(key, "-_"); i > 0 {
		if j, ok := c.byCode[key[:i]]; ok {
			return c.langs[j], true
		}
	}
	for _, l := range c.langs {
		if strings.EqualFold(l.Name, key) || strings.EqualFold(l.NativeName, key) {
			return l, true
		}
	}
	return Language{}, false
}

// Resolve is like [Catalog.Lookup] but falls back to English, or to the first
// language when English is not in the catalogue.
func (c *Catalog) Resolve(key string) Language {
	if l, ok := c.Lookup(key); ok {
		return l
	}
	if i, ok := c.byCode[FallbackCode]; ok {
		return c.langs[i]
	}
	return c.langs[0]
}

// Select resolves a language and one of its voices. A voice that does not
// belong to the resolved language is replaced by its default voice.
func (c *Catalog) Select(langKey, voiceID string) (Language, Voice) {
	l := c.Resolve(langKey)
	v, _ := l.Voice(voiceID)
	return l, v
}
