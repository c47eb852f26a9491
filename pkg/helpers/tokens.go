package helpers

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// GetCodec returns the tokenizer for model, falling back to cl100k_base for
// models the tokenizer does not know about.
func GetCodec(model string) (tokenizer.Codec, error) {
	if model != "" {
		c, err := tokenizer.ForModel(tokenizer.Model(model))
		if err == nil {
			return c, nil
		}
	}
	c, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "could not create tokenizer")
	}
	return c, nil
}

func CountTokens(codec tokenizer.Codec, text string) (int, error) {
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode text")
	}
	return len(ids), nil
}
