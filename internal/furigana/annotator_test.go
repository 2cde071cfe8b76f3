// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package furigana

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenizer returns canned tokens regardless of input.
type fakeTokenizer struct {
	tokens []Token
	err    error
}

func (f *fakeTokenizer) Tokenize(string) ([]Token, error) {
	out := make([]Token, len(f.tokens))
	copy(out, f.tokens)
	return out, f.err
}

func fakeFactory(tokens ...Token) Factory {
	return func() (Tokenizer, error) {
		return &fakeTokenizer{tokens: tokens}, nil
	}
}

var (
	rtPattern  = regexp.MustCompile(`<rt>.*?</rt>`)
	tagPattern = regexp.MustCompile(`</?ruby>`)
)

// plain strips ruby markup and unescapes, recovering the annotated input.
func plain(markup string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(rtPattern.ReplaceAllString(markup, ""), ""))
}

func TestAnnotate_BlankInput(t *testing.T) {
	var built atomic.Int32
	ann := NewAnnotator(func() (Tokenizer, error) {
		built.Add(1)
		return &fakeTokenizer{}, nil
	}, nil)

	for _, in := range []string{"", "   ", "\n\t "} {
		out, err := ann.Annotate(in)
		require.NoError(t, err)
		assert.Equal(t, "", out)
	}
	assert.Zero(t, built.Load(), "blank input must not build the tokenizer")
}

func TestAnnotate_RubyAndGaps(t *testing.T) {
	// "漢字 と カナ!" with tokens for 漢字, と and カナ
	text := "漢字 と カナ!"
	ann := NewAnnotator(fakeFactory(
		Token{Start: 0, End: 6, Reading: "カンジ"},
		Token{Start: 7, End: 10, Reading: "ト"},
		Token{Start: 11, End: 17, Reading: "カナ"},
	), nil)

	out, err := ann.Annotate(text)
	require.NoError(t, err)
	assert.Equal(t, "<ruby>漢字<rt>かんじ</rt></ruby> と カナ!", out)
	assert.Equal(t, text, plain(out))
}

func TestAnnotate_NoGlossForPlaceholderOrEmpty(t *testing.T) {
	text := "ABC漢"
	ann := NewAnnotator(fakeFactory(
		Token{Start: 0, End: 3, Reading: "*"},
		Token{Start: 3, End: 6, Reading: "  "},
	), nil)

	out, err := ann.Annotate(text)
	require.NoError(t, err)
	assert.Equal(t, "ABC漢", out)
}

func TestAnnotate_EscapesEverything(t *testing.T) {
	text := `<a href="x">'&'</a>`
	ann := NewAnnotator(fakeFactory(Token{Start: 0, End: 2, Reading: "タグ"}), nil)

	out, err := ann.Annotate(text)
	require.NoError(t, err)
	assert.Equal(t, `<ruby>&lt;a<rt>たぐ</rt></ruby> href=&quot;x&quot;&gt;&#39;&amp;&#39;&lt;/a&gt;`, out)
	assert.Equal(t, text, plain(out))
}

func TestAnnotate_HostileOffsets(t *testing.T) {
	text := "東京タワーへ行く"
	tests := []struct {
		name   string
		tokens []Token
	}{
		{"mid-rune start", []Token{{Start: 1, End: 6, Reading: "トウキョウ"}}},
		{"mid-rune end", []Token{{Start: 0, End: 4, Reading: "ト"}}},
		{"past end", []Token{{Start: 20, End: 99, Reading: "ナニ"}}},
		{"negative", []Token{{Start: -5, End: 3, Reading: "ヒガシ"}}},
		{"overlap", []Token{{Start: 0, End: 9, Reading: "ア"}, {Start: 3, End: 12, Reading: "イ"}}},
		{"out of order", []Token{{Start: 9, End: 15, Reading: "タワ"}, {Start: 0, End: 6, Reading: "トウキョウ"}}},
		{"end before start", []Token{{Start: 6, End: 3, Reading: "ウ"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann := NewAnnotator(fakeFactory(tt.tokens...), nil)
			spans, err := ann.Spans(text)
			require.NoError(t, err)

			var rebuilt strings.Builder
			for _, s := range spans {
				assert.True(t, utf8.ValidString(s.Surface), "span %q splits a rune", s.Surface)
				rebuilt.WriteString(s.Surface)
			}
			assert.Equal(t, text, rebuilt.String())

			out, err := ann.Annotate(text)
			require.NoError(t, err)
			assert.True(t, utf8.ValidString(out))
			assert.Equal(t, text, plain(out))
		})
	}
}

func TestAnnotate_InitFailureIsSticky(t *testing.T) {
	var attempts atomic.Int32
	boom := errors.New("dictionary missing")
	ann := NewAnnotator(func() (Tokenizer, error) {
		attempts.Add(1)
		return nil, boom
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := ann.Annotate("日本")
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), attempts.Load())
}

func TestAnnotate_NilFactory(t *testing.T) {
	ann := NewAnnotator(nil, nil)
	_, err := ann.Annotate("日本")
	assert.ErrorIs(t, err, ErrNoFactory)
}

func TestAnnotate_TokenizeError(t *testing.T) {
	ann := NewAnnotator(func() (Tokenizer, error) {
		return &fakeTokenizer{err: errors.New("bad input")}, nil
	}, nil)

	_, err := ann.Annotate("日本")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestAnnotate_ConcurrentCallsBuildOnce(t *testing.T) {
	var built atomic.Int32
	ann := NewAnnotator(func() (Tokenizer, error) {
		built.Add(1)
		return &fakeTokenizer{tokens: []Token{{Start: 0, End: 3, Reading: "ヒ"}}}, nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := ann.Annotate("日")
			if err != nil || out != "<ruby>日<rt>ひ</rt></ruby>" {
				t.Errorf("Annotate = %q, %v", out, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), built.Load())
}

func TestToHiragana(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"カタカナ", "かたかな"},
		{"ァ", "ぁ"},
		{"ヶ", "ゖ"},
		{"ヷ", "ヷ"},
		{"ー", "ー"},
		{"ABC漢字", "ABC漢字"},
		{"ひらがな", "ひらがな"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToHiragana(tt.in), "ToHiragana(%q)", tt.in)
	}
}

func TestGlossFor(t *testing.T) {
	tests := []struct {
		surface, reading, want string
	}{
		{"漢字", "カンジ", "かんじ"},
		{"する", "スル", ""},
		{"テレビ", "テレビ", ""},
		{"x", "*", ""},
		{"x", "", ""},
		{"日", " ニチ ", "にち"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, glossFor(tt.surface, tt.reading), "glossFor(%q, %q)", tt.surface, tt.reading)
	}
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "&amp;&lt;&gt;&quot;&#39;é/", EscapeHTML(`&<>"'é/`))
}
