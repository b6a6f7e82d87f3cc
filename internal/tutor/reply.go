package tutor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/oraltutor/internal/session"
)

// Placeholders used when a required field is missing from the model output.
const (
	CorrectionPlaceholder  = "No correction available."
	InteractionPlaceholder = "…"
)

// MaxExpansion is the maximum number of follow-up suggestions kept.
const MaxExpansion = 2

// Keys accepted for each reply field, in priority order.
var (
	correctionKeys  = []string{"correction", "phase1_correction", "feedback"}
	optimizedKeys   = []string{"optimized_text", "phase2_optimized_text", "optimized", "better_expression"}
	interactionKeys = []string{"interaction", "phase3_interaction", "reply"}
	expansionKeys   = []string{"expansion", "phase4_expansion", "suggestions"}
)

// Normalize maps a decoded model response onto a [session.Reply]. Each field
// takes the first alias holding a non-blank string; non-string values are
// ignored. Correction and Interaction fall back to placeholders.
// Expansion accepts a list (non-strings and blanks dropped) or a single
// string, and keeps at most [MaxExpansion] entries.
func Normalize(raw map[string]any) session.Reply {
	r := session.Reply{
		Correction:    firstString(raw, correctionKeys),
		OptimizedText: firstString(raw, optimizedKeys),
		Interaction:   firstString(raw, interactionKeys),
		Expansion:     firstList(raw, expansionKeys),
	}
	if r.Correction == "" {
		r.Correction = CorrectionPlaceholder
	}
	if r.Interaction == "" {
		r.Interaction = InteractionPlaceholder
	}
	return r
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstList(raw map[string]any, keys []string) []string {
	for _, k := range keys {
		var out []string
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = []string{s}
			}
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					continue
				}
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
				if len(out) == MaxExpansion {
					break
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// ParseReply decodes a model completion into a normalized reply. Markdown
// code fences and prose around the outermost JSON object are tolerated.
// Anything that does not decode to a JSON object yields [ErrMalformedReply].
func ParseReply(content string) (session.Reply, error) {
	body := stripFences(content)
	raw, err := decodeObject(body)
	if err != nil {
		if i, j := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); i >= 0 && j > i {
			raw, err = decodeObject(body[i : j+1])
		}
	}
	if err != nil {
		return session.Reply{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return Normalize(raw), nil
}

func decodeObject(s string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("null is not an object")
	}
	return raw, nil
}

// stripFences removes a surrounding ```json … ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
