package chat

import (
	"strings"
	"testing"

	"github.com/askdoc/askdoc/internal/retrieval"
)

func TestBuildSystemPrompt_WithSources(t *testing.T) {
	prompt := buildSystemPrompt("report.txt", []retrieval.Result{
		{Seq: 3, Content: "  Revenue grew 12% in Q3.  ", Similarity: 0.88},
		{Seq: 7, Content: "Headcount stayed flat.", Similarity: 0.81},
	})

	if !strings.Contains(prompt, `"report.txt"`) {
		t.Error("prompt does not name the document")
	}
	if !strings.Contains(prompt, "[1]\nRevenue grew 12% in Q3.") {
		t.Error("first excerpt missing or not trimmed")
	}
	if !strings.Contains(prompt, "[2]\nHeadcount stayed flat.") {
		t.Error("second excerpt missing")
	}
	if strings.Contains(prompt, "No relevant excerpts") {
		t.Error("no-context notice present despite sources")
	}
}

func TestBuildSystemPrompt_WithoutSources(t *testing.T) {
	prompt := buildSystemPrompt("empty.txt", nil)

	if !strings.Contains(prompt, "No relevant excerpts") {
		t.Error("prompt does not state the missing context")
	}
	if strings.Contains(prompt, "Excerpts:") {
		t.Error("excerpt section present without sources")
	}
}
