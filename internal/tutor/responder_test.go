package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/pkg/provider/llm"
	llmmock "github.com/MrWong99/oraltutor/pkg/provider/llm/mock"
)

func japanese(t *testing.T) language.Language {
	t.Helper()
	l, ok := language.Default().Lookup("ja")
	if !ok {
		t.Fatal("ja missing from catalogue")
	}
	return l
}

func TestResponder_BuildsRequest(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: `{"phase1_correction":"很好","phase3_interaction":"いいですね！"}`},
		ModelCapabilities: llm.ModelCapabilities{SupportsJSONMode: true},
	}
	r, err := NewResponder(p, WithMaxTokens(600), WithExplanationLanguage("English"))
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	reply, err := r.Generate(context.Background(), "昨日映画を見ました", japanese(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Interaction != "いいですね！" || reply.Correction != "很好" {
		t.Errorf("reply = %+v", reply)
	}

	if p.CallCount() != 1 {
		t.Fatalf("calls = %d", p.CallCount())
	}
	req := p.CompleteCalls[0].Req
	if !req.JSONMode {
		t.Error("JSONMode should follow provider capabilities")
	}
	if req.Temperature != DefaultTemperature || req.MaxTokens != 600 {
		t.Errorf("Temperature = %v, MaxTokens = %d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.SystemPrompt, "practise Japanese") || !strings.Contains(req.SystemPrompt, "in English") {
		t.Error("system prompt not parameterised by language")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "昨日映画を見ました" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestResponder_FollowsSessionLanguage(t *testing.T) {
	p := &llmmock.Provider{Replies: []string{
		`{"interaction":"いいですね！"}`,
		"```json\n{\"interaction\":\"Schön!\"}\n```",
	}}
	r, _ := NewResponder(p)
	german, _ := language.Default().Lookup("de")

	for _, tc := range []struct {
		lang language.Language
		want string
	}{
		{japanese(t), "いいですね！"},
		{german, "Schön!"},
	} {
		reply, err := r.Generate(t.Context(), "hello", tc.lang)
		if err != nil {
			t.Fatalf("%s: %v", tc.lang.Code, err)
		}
		if reply.Interaction != tc.want {
			t.Errorf("%s: interaction = %q, want %q", tc.lang.Code, reply.Interaction, tc.want)
		}
		req, _ := p.LastRequest()
		if !strings.Contains(req.SystemPrompt, "practise "+tc.lang.Name) {
			t.Errorf("%s: prompt does not target %s", tc.lang.Code, tc.lang.Name)
		}
	}
}

func TestResponder_NoJSONModeCapability(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{}`}}
	r, _ := NewResponder(p)
	if _, err := r.Generate(context.Background(), "hi", japanese(t)); err != nil {
		t.Fatal(err)
	}
	if p.CompleteCalls[0].Req.JSONMode {
		t.Error("JSONMode must be off when the model lacks it")
	}
}

func TestResponder_Failures(t *testing.T) {
	transport := errors.New("connection refused")
	tests := []struct {
		name          string
		resp          *llm.CompletionResponse
		err           error
		wantMalformed bool
	}{
		{"transport", nil, transport, false},
		{"nil response", nil, nil, false},
		{"empty content", &llm.CompletionResponse{Content: "  "}, nil, false},
		{"not json", &llm.CompletionResponse{Content: "Great sentence!"}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := NewResponder(&llmmock.Provider{CompleteResponse: tc.resp, CompleteErr: tc.err})
			_, err := r.Generate(context.Background(), "hi", japanese(t))
			if !errors.Is(err, ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			if got := errors.Is(err, ErrMalformedReply); got != tc.wantMalformed {
				t.Errorf("ErrMalformedReply = %v, want %v", got, tc.wantMalformed)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Error("transport cause should be wrapped")
			}
		})
	}
}

func TestNewResponder_NilProvider(t *testing.T) {
	if _, err := NewResponder(nil); err == nil {
		t.Fatal("expected error")
	}
}
