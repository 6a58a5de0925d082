package notify

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	s, err := NewSigner("secret")
	require.NoError(t, err)
	r, err := NewRenderer(s, "https://example.org/")
	require.NoError(t, err)
	return r
}

func TestRendererLines(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	lines := r.Lines([]mirror.UnclassifiedPage{{ID: 7, Title: "Fresh page"}})
	require.Len(t, lines, 3)
	assert.Equal(t, "**1 unclassified pages**", lines[0])
	assert.Empty(t, lines[1])

	token := r.signer.Token(7)
	for _, action := range []string{"register", "exclude", "clip"} {
		assert.Contains(t, lines[2], fmt.Sprintf("[%s](https://example.org/api/article/%s?token=%s)", action, action, token))
	}
	assert.True(t, strings.HasPrefix(lines[2], "- Fresh page ("))
}

func TestChunkNeverExceedsBudgetOrSplitsLines(t *testing.T) {
	t.Parallel()

	for _, budget := range []int{10, 25, 64, 2000} {
		var lines []string
		for i := 0; i < 50; i++ {
			// Lengths cycle up to exactly the budget.
			lines = append(lines, strings.Repeat("x", 1+(i*7)%budget))
		}
		chunks, truncated := Chunk(lines, budget)
		assert.Zero(t, truncated)
		var rejoined []string
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), budget)
			rejoined = append(rejoined, strings.Split(c, "\n")...)
		}
		assert.Equal(t, lines, rejoined, "budget %d", budget)
	}
}

func TestChunkNearlyFullLineStartsNewChunk(t *testing.T) {
	t.Parallel()

	chunks, _ := Chunk([]string{"ab", strings.Repeat("y", 9)}, 10)
	assert.Equal(t, []string{"ab", strings.Repeat("y", 9)}, chunks)
}

func TestChunkCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	chunks, _ := Chunk([]string{"日本語", "テスト"}, 7)
	assert.Equal(t, []string{"日本語\nテスト"}, chunks)
}

func TestChunkTruncatesOverBudgetLine(t *testing.T) {
	t.Parallel()

	chunks, truncated := Chunk([]string{"short", strings.Repeat("é", 12), "tail"}, 8)
	assert.Equal(t, []string{"short", strings.Repeat("é", 8), "tail"}, chunks)
	assert.Equal(t, 1, truncated)
}

func TestChunkDropsLinkCutByBudget(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	line := r.Lines([]mirror.UnclassifiedPage{{ID: 7, Title: "Fresh page"}})[2]
	registerLink := fmt.Sprintf("[register](%s)", r.ActionURL("register", 7))
	excludeURL := r.ActionURL("exclude", 7)
	// The budget ends inside the exclude link's token.
	budget := utf8.RuneCountInString("- Fresh page ("+registerLink+" | [exclude](") + len(excludeURL) - 3

	chunks, truncated := Chunk([]string{line}, budget)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, truncated)
	assert.Equal(t, "- Fresh page ("+registerLink, chunks[0])
	assert.NotContains(t, chunks[0], "exclude")
}

func TestChunkKeepsBlankLines(t *testing.T) {
	t.Parallel()

	chunks, _ := Chunk([]string{"head", "", "body"}, 100)
	assert.Equal(t, []string{"head\n\nbody"}, chunks)
}

func TestChunkEmpty(t *testing.T) {
	t.Parallel()

	chunks, _ := Chunk(nil, 10)
	assert.Nil(t, chunks)
	chunks, _ = Chunk([]string{"a"}, 0)
	assert.Nil(t, chunks)
}
