package helper

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the estimate used when no encoding is available
const charsPerToken = 4

// TokenCounter measures prompt sizes with a tiktoken encoding, or with a
// character estimate when the encoding cannot be loaded.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding. An empty name selects the
// character estimate.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		return &TokenCounter{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("Falling back to estimated token counts")
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (c *TokenCounter) Count(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
