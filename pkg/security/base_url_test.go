package security

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateBaseURL(t *testing.T) {
	for _, u := range []string{
		"https://api.openai.com/v1",
		"http://localhost:8080/v1",
		"http://127.0.0.1:11434/v1",
		"http://[::1]:8000",
		"http://llm.localhost/v1",
	} {
		assert.NoError(t, ValidateBaseURL(u), u)
	}
}

func TestValidateBaseURLRejects(t *testing.T) {
	err := ValidateBaseURL("http://api.example.com/v1")
	assert.True(t, errors.Is(err, ErrInsecureBaseURL))

	err = ValidateBaseURL("http://10.0.0.5/v1")
	assert.True(t, errors.Is(err, ErrInsecureBaseURL))

	err = ValidateBaseURL("http://[fe80::1%25eth0]/")
	assert.True(t, errors.Is(err, ErrInsecureBaseURL))

	assert.Error(t, ValidateBaseURL("ftp://example.com"))
	assert.Error(t, ValidateBaseURL("/v1"))
}
