// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package furigana renders Japanese text as HTML with <ruby> reading glosses.
//
// Text is split by a morphological analyzer (kagome). Each token whose reading
// differs from its surface, after both are mapped to hiragana, is wrapped as
// <ruby>surface<rt>reading</rt></ruby>. Everything else, including text the
// analyzer skipped, is copied through HTML-escaped. Stripping the markup and
// unescaping always gives back the input.
//
// # Key Types
//
//   - Annotator: owns the lazily built tokenizer and renders markup
//   - Tokenizer: analyzer interface, byte-offset tokens with readings
//   - KagomeTokenizer: kagome-backed Tokenizer (bundled IPA or a dictionary file)
//   - Span: one surface substring with its optional gloss
//
// # Usage
//
//	ann := furigana.NewAnnotator(furigana.KagomeFactory(""), logger)
//	html, err := ann.Annotate("日本語を勉強する")
//	// <ruby>日本語<rt>にほんご</rt></ruby>を<ruby>勉強<rt>べんきょう</rt></ruby>する
package furigana
