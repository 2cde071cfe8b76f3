// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// OPENAI-COMPATIBLE TYPES
// ============================================================================

// ChatCompletionRequest is the subset of the chat-completions body that is read.
type ChatCompletionRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is one message of a chat-completions request.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type string  `json:"type,omitempty"`
	Text *string `json:"text,omitempty"`
}

// MessageContent is either a plain string or a list of parts. A missing or
// null content decodes to the empty string.
type MessageContent struct {
	Text    string
	Parts   []ContentPart
	IsParts bool
}

// TextContent builds string content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// PartsContent builds multi-part content.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts, IsParts: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = MessageContent{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array, got %.20q", data)
	}
}

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		if c.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// FirstText returns the string content, or the text of the first part whose
// text is not blank. ok is false when a part list has no such part.
func (c MessageContent) FirstText() (text string, ok bool) {
	if !c.IsParts {
		return c.Text, true
	}
	for _, p := range c.Parts {
		if p.Text != nil && strings.TrimSpace(*p.Text) != "" {
			return *p.Text, true
		}
	}
	return "", false
}

// LastUserText finds the last message whose role is "user" (any case) and
// returns its trimmed text. Earlier user messages are never consulted, even
// when the last one carries no text.
func LastUserText(messages []ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(messages[i].Role, "user") {
			continue
		}
		text, ok := messages[i].Content.FirstText()
		if !ok {
			return "", false
		}
		text = strings.TrimSpace(text)
		return text, text != ""
	}
	return "", false
}
