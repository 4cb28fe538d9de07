// Package tokenizer estimates the sequence length of an inference input.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	TypeCharacter = "character"
	TypeTiktoken  = "tiktoken"

	encoding = "cl100k_base"
)

type Tokenizer interface {
	SequenceLength(input string) (int, error)
}

func New(kind string) (Tokenizer, error) {
	switch kind {
	case "", TypeCharacter:
		return Character{}, nil
	case TypeTiktoken:
		return newTiktoken(), nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer type: %s", kind)
	}
}

// Character counts input bytes.
type Character struct{}

func (Character) SequenceLength(input string) (int, error) {
	return len(input), nil
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
	encoderErr  error
)

func loadEncoder() (*tiktoken.Tiktoken, error) {
	encoderOnce.Do(func() {
		// offline loader keeps the BPE ranks out of the network path
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		encoder, encoderErr = tiktoken.GetEncoding(encoding)
	})
	return encoder, encoderErr
}

type tiktokenTokenizer struct{}

func newTiktoken() Tokenizer {
	return tiktokenTokenizer{}
}

func (tiktokenTokenizer) SequenceLength(input string) (int, error) {
	enc, err := loadEncoder()
	if err != nil {
		return 0, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return len(enc.Encode(input, nil, nil)), nil
}
