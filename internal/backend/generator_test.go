package backend

import (
	"context"
	"errors"
	"testing"

	"sage-gateway-go/internal/models"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		text      string
		inTokens  int64
		outTokens int64
		reported  bool
	}{
		{"structured", `{"text":"hello there","usage":{"input_tokens":12,"output_tokens":34}}`, "hello there", 12, 34, true},
		{"structured without usage", `{"text":"hi"}`, "hi", 0, 0, false},
		{"legacy input/output line", "line one\nline two\nInput tokens: 100, Output tokens: 250\n", "line one\nline two", 100, 250, true},
		{"legacy usage line", "Usage: input=7 output=9\nanswer", "answer", 7, 9, true},
		{"plain text", "just text", "just text", 0, 0, false},
		{"broken json falls back to text", `{"text": oops`, `{"text": oops`, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOutput(tt.output)
			if got.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, got.Text)
			}
			if got.InputTokens != tt.inTokens || got.OutputTokens != tt.outTokens || got.UsageReported != tt.reported {
				t.Errorf("Unexpected usage: %+v", got)
			}
		})
	}
}

func TestParseUsage(t *testing.T) {
	if in, out, ok := ParseUsage("input tokens: 5, output tokens: 6"); !ok || in != 5 || out != 6 {
		t.Errorf("Expected case-insensitive match, got %d %d %v", in, out, ok)
	}
	if _, _, ok := ParseUsage("tokens were used"); ok {
		t.Errorf("Expected no match")
	}
}

func shellGenerator(t *testing.T, script string) *Generator {
	t.Helper()
	generator, err := NewGenerator(models.BackendConfig{Command: "/bin/sh", Args: []string{"-c", script, "backend"}})
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	return generator
}

func TestGenerate_PassesArguments(t *testing.T) {
	// $1 history, $2 input, $3 user id
	generator := shellGenerator(t, `test "$1" = '[{"role":"user","content":"hi"}]' || exit 9; printf '{"text":"%s %s","usage":{"input_tokens":1,"output_tokens":2}}' "$2" "$3"`)
	history := []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}
	response, err := generator.Generate(context.Background(), history, "question", "alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if response.Text != "question alice" || !response.UsageReported || response.OutputTokens != 2 {
		t.Errorf("Unexpected response: %+v", response)
	}

	generator = shellGenerator(t, `test "$1" = '[]' || exit 9; printf 'ok'`)
	response, err = generator.Generate(context.Background(), nil, "question", "alice")
	if err != nil {
		t.Fatalf("Generate with nil history failed: %v", err)
	}
	if response.Text != "ok" || response.UsageReported {
		t.Errorf("Unexpected response: %+v", response)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		expected error
	}{
		{"non-zero exit", "echo oops >&2; exit 3", ErrBackendFailed},
		{"empty output", "true", ErrEmptyResponse},
		{"usage only", "echo 'Usage: input=1 output=2'", ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := shellGenerator(t, tt.script).Generate(context.Background(), nil, "q", "u")
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestNewGenerator_RequiresCommand(t *testing.T) {
	if _, err := NewGenerator(models.BackendConfig{}); err == nil {
		t.Errorf("Expected error for empty command")
	}
}
