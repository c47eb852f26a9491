package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokensFallsBackForUnknownModel(t *testing.T) {
	codec, err := GetCodec("not-a-real-model")
	require.NoError(t, err)

	n, err := CountTokens(codec, "hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountTokens(codec, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
