package llm

import (
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"short message unchanged", "What is chapter 3 about?", "What is chapter 3 about?"},
		{"whitespace trimmed", "  hello  ", "hello"},
		{"first line only", "first line\nsecond line", "first line"},
		{
			"long message truncated",
			strings.Repeat("a", 100),
			strings.Repeat("a", maxTitleLength-3) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FallbackTitle(tt.message); got != tt.want {
				t.Errorf("FallbackTitle(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestTruncateTitle_RuneSafe(t *testing.T) {
	// Multibyte text must not be cut mid-rune
	long := strings.Repeat("文", 100)
	got := truncateTitle(long)

	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title missing ellipsis: %q", got)
	}
	for _, r := range got {
		if r != '文' && r != '.' {
			t.Errorf("unexpected rune %q in truncated title", r)
		}
	}
}

func TestTurnsToContents(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "question"},
		{Role: RoleModel, Content: "answer"},
		{Role: RoleUser, Content: "follow-up"},
	}

	contents := turnsToContents(history)
	if len(contents) != 3 {
		t.Fatalf("len = %d, want 3", len(contents))
	}

	wantRoles := []genai.Role{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	for i, c := range contents {
		if c.Role != string(wantRoles[i]) {
			t.Errorf("contents[%d].Role = %q, want %q", i, c.Role, wantRoles[i])
		}
		if len(c.Parts) != 1 || c.Parts[0].Text != history[i].Content {
			t.Errorf("contents[%d] text = %+v, want %q", i, c.Parts, history[i].Content)
		}
	}
}

func TestTurnsToContents_Empty(t *testing.T) {
	if got := turnsToContents(nil); len(got) != 0 {
		t.Errorf("turnsToContents(nil) = %v, want empty", got)
	}
}
