package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FinalDirect(t *testing.T) {
	p := Parse("FINAL(42)")
	require.NotNil(t, p.Marker)
	assert.Equal(t, MarkerDirect, p.Marker.Kind)
	assert.Equal(t, "42", p.Marker.Text)
	assert.Empty(t, p.CodeBlocks)
}

func TestParse_FinalVar(t *testing.T) {
	p := Parse("```repl\nresult = 'x'\n```\nFINAL_VAR(result)")
	require.Len(t, p.CodeBlocks, 1)
	assert.Equal(t, "repl", p.CodeBlocks[0].Language)
	assert.Equal(t, "result = 'x'", p.CodeBlocks[0].Code)
	require.NotNil(t, p.Marker)
	assert.Equal(t, MarkerVariable, p.Marker.Kind)
	assert.Equal(t, "result", p.Marker.Text)
}

func TestParse_FinalTakesPriorityOverFinalVar(t *testing.T) {
	p := Parse("FINAL(the answer) also FINAL_VAR(ignored)")
	require.NotNil(t, p.Marker)
	assert.Equal(t, MarkerDirect, p.Marker.Kind)
	assert.Equal(t, "the answer", p.Marker.Text)
}

func TestParse_FinalNotFollowedByIdentChar(t *testing.T) {
	// FINAL(x)y is not a marker: closing paren is immediately followed by 'y'.
	p := Parse("FINAL(x)y")
	assert.Nil(t, p.Marker)
}

func TestParse_FinalWithNestedParens(t *testing.T) {
	// B3: closing paren preceded by balanced nested parens; captured text
	// preserves internal content including the nested parens.
	p := Parse("FINAL(text with\nand (parens))")
	require.NotNil(t, p.Marker)
	assert.Equal(t, MarkerDirect, p.Marker.Kind)
	assert.Equal(t, "text with\nand (parens)", p.Marker.Text)
}

func TestParse_MultipleCodeBlocksPreserveOrderAndIndentation(t *testing.T) {
	input := "```python\n" +
		"def f():\n" +
		"    return 1\n" +
		"```\n" +
		"more prose\n" +
		"```repl\n" +
		"print(f())\n" +
		"```"
	p := Parse(input)
	require.Len(t, p.CodeBlocks, 2)
	assert.Equal(t, "python", p.CodeBlocks[0].Language)
	assert.Equal(t, "def f():\n    return 1", p.CodeBlocks[0].Code)
	assert.Equal(t, "repl", p.CodeBlocks[1].Language)
	assert.Equal(t, "print(f())", p.CodeBlocks[1].Code)
}

func TestParse_ThinkingStripsCodeAndMarkersAndNormalizesWhitespace(t *testing.T) {
	input := "Let me think.\n\n\n\n```python\nx = 1\n```\n\n\n\nFINAL(done)"
	p := Parse(input)
	assert.Equal(t, "Let me think.", p.Thinking)
}

func TestParse_IdempotentOnThinking(t *testing.T) {
	// R1/P7: re-parsing the thinking output yields no code blocks and no marker.
	input := "some reasoning\n```repl\nx = 1\n```\nFINAL_VAR(x)"
	first := Parse(input)
	second := Parse(first.Thinking)
	assert.Empty(t, second.CodeBlocks)
	assert.Nil(t, second.Marker)
}

func TestParse_UnfencedTagIsIgnored(t *testing.T) {
	p := Parse("```bash\necho hi\n```")
	assert.Empty(t, p.CodeBlocks)
}

func TestParse_NoMarkerIsNil(t *testing.T) {
	p := Parse("just some prose, no markers here")
	assert.Nil(t, p.Marker)
	assert.Equal(t, "just some prose, no markers here", p.Thinking)
}
