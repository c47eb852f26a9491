package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answer = "Here are the tests:\n\n```csharp\npublic class FooTests\n{\n}\n```\n\nAnd a config:\n\n```yaml\na: 1\n```\n"

func TestExtractCodeBlocks(t *testing.T) {
	blocks, err := ExtractCodeBlocks(answer)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "csharp", blocks[0].Language)
	assert.Equal(t, "public class FooTests\n{\n}\n", blocks[0].Code)
	assert.Equal(t, "yaml", blocks[1].Language)
}

func TestExtractCodeBlocksFiltersLanguage(t *testing.T) {
	blocks, err := ExtractCodeBlocks(answer, "CSharp", "cs")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "csharp", blocks[0].Language)
}

func TestExtractCodeBlocksNone(t *testing.T) {
	blocks, err := ExtractCodeBlocks("just prose")
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, "class A {}\n", StripCodeFences("\n```csharp\nclass A {}\n```"))
	assert.Equal(t, "class A {}", StripCodeFences("\n\nclass A {}"))
	// prose around code that does not start with a fence is kept
	assert.Equal(t, "// see ```x```\nclass A {}", StripCodeFences("// see ```x```\nclass A {}"))
}
