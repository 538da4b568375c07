package chat

import (
	"fmt"
	"strings"

	"github.com/askdoc/askdoc/internal/retrieval"
)

// buildSystemPrompt assembles the grounding instructions and the retrieved
// excerpts for one turn. Excerpts are numbered so the model can refer to
// them; an empty excerpt list produces an honest "no context" prompt rather
// than inviting the model to improvise.
func buildSystemPrompt(filename string, sources []retrieval.Result) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant answering questions about the document ")
	fmt.Fprintf(&sb, "%q.\n", filename)
	sb.WriteString("Answer using only the excerpts below and the conversation so far. ")
	sb.WriteString("If the excerpts do not contain the answer, say so plainly instead of guessing. ")
	sb.WriteString("Keep answers concise.\n")

	if len(sources) == 0 {
		sb.WriteString("\nNo relevant excerpts were found for this question.\n")
		return sb.String()
	}

	sb.WriteString("\nExcerpts:\n")
	for i, src := range sources {
		fmt.Fprintf(&sb, "\n[%d]\n%s\n", i+1, strings.TrimSpace(src.Content))
	}
	return sb.String()
}
