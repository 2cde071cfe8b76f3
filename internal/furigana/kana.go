// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package furigana

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// The katakana block that has a one-to-one hiragana counterpart: ァ (U+30A1)
// through ヶ (U+30F6). Each of these sits exactly KatakanaToHiraganaOffset
// codepoints above its hiragana form.
const (
	KatakanaFirst            = 'ァ'
	KatakanaLast             = 'ヶ'
	KatakanaToHiraganaOffset = 0x60
)

// placeholderReading is what the dictionary reports for tokens it has no
// pronunciation for.
const placeholderReading = "*"

// ToHiragana maps every rune in [KatakanaFirst, KatakanaLast] to its hiragana
// counterpart. All other runes, including the prolonged sound mark ー, pass
// through unchanged.
func ToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= KatakanaFirst && r <= KatakanaLast {
			return r - KatakanaToHiraganaOffset
		}
		return r
	}, s)
}

// glossFor returns the ruby gloss for a token, or "" when the token should be
// rendered bare.
func glossFor(surface, reading string) string {
	reading = strings.TrimSpace(reading)
	if reading == "" || reading == placeholderReading {
		return ""
	}
	gloss := ToHiragana(reading)
	if norm.NFC.String(gloss) == norm.NFC.String(ToHiragana(surface)) {
		return ""
	}
	return gloss
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five XML-unsafe characters and nothing else.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
