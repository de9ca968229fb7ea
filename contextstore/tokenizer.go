package contextstore

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer measures text in model tokens.
type Tokenizer interface {
	Count(text string) int
}

// Estimate approximates one token per four bytes, rounded up.
type Estimate struct{}

// Count returns ceil(len(text)/4).
func (Estimate) Count(text string) int {
	return (len(text) + 3) / 4
}

// Tiktoken counts with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads encoding. The first load of an encoding fetches its
// ranks file unless the tiktoken cache already holds it.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count returns the exact token count of text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.EncodeOrdinary(text))
}

// NewTokenizer resolves a configured tokenizer name: "estimate" (or empty)
// or a tiktoken encoding name.
func NewTokenizer(name string) (Tokenizer, error) {
	if name == "" || name == "estimate" {
		return Estimate{}, nil
	}
	return NewTiktoken(name)
}
