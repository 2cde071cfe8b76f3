// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package furigana

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

// Token is one analyzer token. Start and End are byte offsets into the text
// that was tokenized.
type Token struct {
	Start   int
	End     int
	Reading string
}

// Tokenizer splits text into tokens. Implementations need not be safe for
// concurrent use; the Annotator serializes calls.
type Tokenizer interface {
	Tokenize(text string) ([]Token, error)
}

// Factory builds the tokenizer on first use.
type Factory func() (Tokenizer, error)

// Span is a piece of the input with its gloss. Reading is empty for text that
// gets no ruby annotation.
type Span struct {
	Surface string `json:"surface"`
	Reading string `json:"reading,omitempty"`
}

// ErrNoFactory is returned when an Annotator has nothing to build a tokenizer from.
var ErrNoFactory = errors.New("furigana: no tokenizer factory configured")

// =============================================================================
// ANNOTATOR
// =============================================================================

// Annotator owns the process-wide tokenizer. The tokenizer is built at most
// once; a failed build is remembered and returned on every later call.
type Annotator struct {
	factory Factory
	logger  *zap.Logger

	once    sync.Once
	initErr error
	tok     Tokenizer

	// mu serializes Tokenize calls.
	mu sync.Mutex
}

// NewAnnotator creates an Annotator that builds its tokenizer with factory.
func NewAnnotator(factory Factory, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{factory: factory, logger: logger.Named("furigana")}
}

// Init builds the tokenizer if it has not been built yet.
func (a *Annotator) Init() error {
	a.once.Do(func() {
		if a.factory == nil {
			a.initErr = ErrNoFactory
			return
		}
		tok, err := a.factory()
		if err != nil {
			a.initErr = fmt.Errorf("initialize tokenizer: %w", err)
			a.logger.Error("TOKENIZER_INIT_FAILED", zap.Error(err))
			return
		}
		a.tok = tok
		a.logger.Info("TOKENIZER_READY")
	})
	return a.initErr
}

// Annotate renders text as HTML with <ruby> glosses over every token whose
// reading differs from its surface. Blank input yields "".
func (a *Annotator) Annotate(text string) (string, error) {
	spans, err := a.Spans(text)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, s := range spans {
		if s.Reading == "" {
			b.WriteString(EscapeHTML(s.Surface))
			continue
		}
		b.WriteString("<ruby>")
		b.WriteString(EscapeHTML(s.Surface))
		b.WriteString("<rt>")
		b.WriteString(EscapeHTML(s.Reading))
		b.WriteString("</rt></ruby>")
	}
	return b.String(), nil
}

// Spans splits text into consecutive spans that together reproduce text
// exactly. Blank input yields no spans.
func (a *Annotator) Spans(text string) ([]Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if err := a.Init(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	tokens, err := a.tok.Tokenize(text)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	return buildSpans(text, tokens), nil
}

// buildSpans walks the tokens in start order. Offsets are clamped to the text
// and to rune boundaries, and never move behind the cursor, so overlapping or
// out-of-range tokens cannot duplicate or split text.
func buildSpans(text string, tokens []Token) []Span {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Start < tokens[j].Start
	})

	spans := make([]Span, 0, len(tokens)+1)
	cursor := 0
	for _, tok := range tokens {
		start := runeFloor(text, clamp(tok.Start, cursor, len(text)))
		end := runeFloor(text, clamp(tok.End, start, len(text)))

		if start > cursor {
			spans = append(spans, Span{Surface: text[cursor:start]})
		}
		if end <= start {
			cursor = start
			continue
		}

		surface := text[start:end]
		spans = append(spans, Span{Surface: surface, Reading: glossFor(surface, tok.Reading)})
		cursor = end
	}

	if cursor < len(text) {
		spans = append(spans, Span{Surface: text[cursor:]})
	}
	return spans
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
