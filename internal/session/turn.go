// Package session owns the per-learner conversation state: the ordered turn
// transcript, the playback marker that keeps an interaction clip from
// autoplaying twice, the fingerprint of the last processed input, the
// selected voice, and the busy gate that serializes turns.
//
// Durable transcript storage is pluggable through [Store]. [MemStore] keeps
// everything in process memory; the postgres and redis sub-packages persist
// it. Live state that only matters while a learner is connected (busy gate,
// voice selection, last input fingerprint) stays on [Session].
package session

import "time"

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a learner utterance.
	RoleUser Role = "user"

	// RoleAssistant marks a tutor reply.
	RoleAssistant Role = "assistant"
)

// Reply is the normalized structured answer of the tutor.
type Reply struct {
	// Correction is feedback on the learner's sentence, written in the
	// explanation language. Never empty after normalization.
	Correction string `json:"correction"`

	// OptimizedText is a native-sounding rewrite of the learner's sentence in
	// the target language. Empty suppresses rendering and synthesis.
	OptimizedText string `json:"optimized_text,omitempty"`

	// Interaction is the conversational answer in the target language. Never
	// empty after normalization.
	Interaction string `json:"interaction"`

	// Expansion holds up to two suggested learner replies.
	Expansion []string `json:"expansion,omitempty"`
}

// Turn is one entry of the transcript. Turns are never mutated after they
// are appended.
type Turn struct {
	Role Role `json:"role"`

	// Text is the learner utterance. Set for RoleUser.
	Text string `json:"text,omitempty"`

	// Reply is the tutor answer. Set for RoleAssistant.
	Reply *Reply `json:"reply,omitempty"`

	// Similarity is the shadowing score of a user turn against the previous
	// optimized sentence, in [0, 1]. Zero when the learner did not read along.
	Similarity float64 `json:"similarity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserTurn returns a user turn stamped with the current time.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, CreatedAt: time.Now().UTC()}
}

// AssistantTurn returns an assistant turn stamped with the current time.
func AssistantTurn(r Reply) Turn {
	return Turn{Role: RoleAssistant, Reply: &r, CreatedAt: time.Now().UTC()}
}
