package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt_NoGrounding(t *testing.T) {
	out := BuildSystemPrompt(nil)
	assert.Equal(t, SystemPrompt, out)
	assert.NotContains(t, out, "Knowledge Base Context")
}

func TestBuildSystemPrompt_EmptyContext(t *testing.T) {
	for _, ctx := range []string{"", "   ", "\n\t"} {
		c := ctx
		out := BuildSystemPrompt(&c)
		assert.Contains(t, out, "No relevant documents were found")
		assert.NotContains(t, out, "### Retrieved Context:")
	}
}

func TestBuildSystemPrompt_Grounded(t *testing.T) {
	ctx := "**Document 1** - Source: visits.pdf\n\nVisiting hours are 9-5."
	out := BuildSystemPrompt(&ctx)
	assert.Contains(t, out, "### Retrieved Context:")
	assert.Contains(t, out, "Visiting hours are 9-5.")
	assert.NotContains(t, out, "No relevant documents were found")
}
