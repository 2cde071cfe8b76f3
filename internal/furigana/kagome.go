// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package furigana

import (
	"fmt"
	"os"

	"github.com/ikawaha/kagome-dict/dict"
	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// KagomeTokenizer adapts a kagome tokenizer to the Tokenizer interface.
type KagomeTokenizer struct {
	kg *tokenizer.Tokenizer
}

// NewKagomeTokenizer loads the dictionary at dictPath, or the bundled IPA
// dictionary when dictPath is empty. A dictPath that does not exist is an
// error rather than a silent fallback.
func NewKagomeTokenizer(dictPath string) (*KagomeTokenizer, error) {
	var d *dict.Dict
	if dictPath == "" {
		d = ipa.Dict()
	} else {
		if _, err := os.Stat(dictPath); err != nil {
			return nil, fmt.Errorf("dictionary %s: %w", dictPath, err)
		}
		loaded, err := dict.LoadDictFile(dictPath)
		if err != nil {
			return nil, fmt.Errorf("load dictionary %s: %w", dictPath, err)
		}
		d = loaded
	}

	kg, err := tokenizer.New(d, tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	return &KagomeTokenizer{kg: kg}, nil
}

// KagomeFactory returns a Factory that builds a KagomeTokenizer for dictPath.
func KagomeFactory(dictPath string) Factory {
	return func() (Tokenizer, error) {
		return NewKagomeTokenizer(dictPath)
	}
}

// Tokenize implements Tokenizer. Kagome reports Position as a byte offset, so
// the byte range of a token is [Position, Position+len(Surface)).
func (k *KagomeTokenizer) Tokenize(text string) ([]Token, error) {
	raw := k.kg.Tokenize(text)
	tokens := make([]Token, 0, len(raw))
	for _, t := range raw {
		if t.Class == tokenizer.DUMMY {
			continue
		}
		reading, _ := t.Reading()
		tokens = append(tokens, Token{
			Start:   t.Position,
			End:     t.Position + len(t.Surface),
			Reading: reading,
		})
	}
	return tokens, nil
}
