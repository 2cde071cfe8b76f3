// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keocheung/AnnaTranslator/internal/cache"
	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/history"
	"github.com/keocheung/AnnaTranslator/internal/replace"
)

type fakeAnnotator struct{ err error }

func (f fakeAnnotator) Annotate(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "<ruby>" + text + "</ruby>", nil
}

type toggle struct{ on bool }

func (t *toggle) SetEnabled(on bool)               { t.on = on }
func (t *toggle) SetOpenAICompatibleInput(on bool) { t.on = on }

type status struct{ failure *events.ServerFailure }

func (s status) LastError() *events.ServerFailure { return s.failure }

type fixture struct {
	reg       *Registry
	rules     *replace.Engine
	history   *history.Log
	store     *cache.Store
	clipboard *toggle
	input     *toggle
	notified  int
}

func newFixture(t *testing.T, srv status) *fixture {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		reg:       NewRegistry(nil, nil),
		rules:     replace.NewEngine(nil),
		store:     store,
		clipboard: &toggle{},
		input:     &toggle{},
	}
	f.history = history.New(func() { f.notified++ })
	RegisterBuiltins(f.reg, Deps{
		Rules:     f.rules,
		Annotator: fakeAnnotator{},
		Cache:     f.store,
		History:   f.history,
		Clipboard: f.clipboard,
		Input:     f.input,
		Server:    srv,
	})
	return f
}

func (f *fixture) invoke(t *testing.T, name, args string) any {
	t.Helper()
	out, err := f.reg.Invoke(context.Background(), name, json.RawMessage(args))
	require.NoError(t, err)
	return out
}

func TestRegistry_GetAndAliases(t *testing.T) {
	f := newFixture(t, status{})

	cmd := f.reg.Get("annotate_furigana")
	require.NotNil(t, cmd)
	assert.Same(t, cmd, f.reg.Get("annotate"))
	assert.Nil(t, f.reg.Get("nope"))
}

func TestRegistry_ListIsSortedAndHidesHidden(t *testing.T) {
	reg := NewRegistry(nil, nil)
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	reg.Register(&Command{Name: "b", Handler: noop, Category: "X"})
	reg.Register(&Command{Name: "a", Handler: noop})
	reg.Register(&Command{Name: "secret", Handler: noop, Hidden: true})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "General", list[0].Category)
	assert.Equal(t, "b", list[1].Name)

	cats := reg.ByCategory()
	assert.Len(t, cats["General"], 1)
	assert.Len(t, cats["X"], 1)

	_, err := reg.Invoke(context.Background(), "secret", nil)
	assert.NoError(t, err)
}

func TestInvoke_Errors(t *testing.T) {
	f := newFixture(t, status{})
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		args    string
		want    error
	}{
		{"unknown", "translate_everything", `{}`, ErrUnknownCommand},
		{"not an object", "annotate_furigana", `[1,2]`, ErrInvalidArgs},
		{"missing required", "annotate_furigana", `{}`, ErrInvalidArgs},
		{"null required", "store_translation", `{"text":"a","translation":null}`, ErrInvalidArgs},
		{"wrong type", "set_clipboard_watch", `{"enabled":"yes"}`, ErrInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reg.Invoke(ctx, tt.command, json.RawMessage(tt.args))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInvoke_EmptyArgsMeansEmptyObject(t *testing.T) {
	f := newFixture(t, status{})
	out, err := f.reg.Invoke(context.Background(), "get_translation_history", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestToggles(t *testing.T) {
	f := newFixture(t, status{})

	f.invoke(t, "set_clipboard_watch", `{"enabled":true}`)
	assert.True(t, f.clipboard.on)
	f.invoke(t, "set_openai_compatible_input", `{"enabled":true}`)
	assert.True(t, f.input.on)
	f.invoke(t, "set_openai_compatible_input", `{"enabled":false}`)
	assert.False(t, f.input.on)
}

func TestSetTextReplacements(t *testing.T) {
	f := newFixture(t, status{})

	out := f.invoke(t, "set_text_replacements",
		`{"rules":[{"pattern":"a","replacement":"b"},{"pattern":"(","replacement":"x"},{"pattern":"B","replacement":"c","flags":"i"}]}`)

	report, ok := out.(replace.InstallReport)
	require.True(t, ok)
	assert.Equal(t, 2, report.Installed)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 1, report.Failed[0].Index)
	assert.Equal(t, "c", f.rules.Apply("a"))
}

func TestGetTextReplacements(t *testing.T) {
	f := newFixture(t, status{})

	assert.Empty(t, f.invoke(t, "get_text_replacements", ``))

	f.invoke(t, "set_text_replacements",
		`{"rules":[{"pattern":"a","replacement":"b"},{"pattern":"(","replacement":"x"},{"pattern":"B","replacement":"c","flags":"i"}]}`)

	specs, ok := f.invoke(t, "get_text_replacements", `{}`).([]replace.RuleSpec)
	require.True(t, ok)
	require.Len(t, specs, 2, "rules that failed to compile are not reported")
	assert.Equal(t, "a", specs[0].Pattern)
	assert.Equal(t, "B", specs[1].Pattern)
	assert.Equal(t, "i", specs[1].Flags)
}

func TestAnnotate(t *testing.T) {
	f := newFixture(t, status{})
	assert.Equal(t, "<ruby>漢字</ruby>", f.invoke(t, "annotate", `{"text":"漢字"}`))

	boom := errors.New("dictionary missing")
	reg := NewRegistry(nil, nil)
	RegisterBuiltins(reg, Deps{Annotator: fakeAnnotator{err: boom}})
	_, err := reg.Invoke(context.Background(), "annotate_furigana", json.RawMessage(`{"text":"x"}`))
	assert.ErrorIs(t, err, boom)
}

func TestCacheCommands(t *testing.T) {
	f := newFixture(t, status{})

	assert.Nil(t, f.invoke(t, "get_cached_translation", `{"text":"猫"}`))

	f.invoke(t, "store_translation", `{"text":"猫","translation":"cat"}`)
	assert.Equal(t, "cat", f.invoke(t, "get_cached_translation", `{"text":"猫"}`))

	f.invoke(t, "store_translation", `{"text":"猫","translation":"   "}`)
	assert.Equal(t, "cat", f.invoke(t, "get_cached_translation", `{"text":"猫"}`))
}

func TestHistoryCommands(t *testing.T) {
	f := newFixture(t, status{})

	f.invoke(t, "record_translation_history", `{"original":"犬","translation":"dog"}`)
	f.invoke(t, "record_translation_history", `{"original":" ","translation":"blank"}`)

	out := f.invoke(t, "get_translation_history", `{}`)
	assert.Equal(t, []history.Entry{{Original: "犬", Translation: "dog"}}, out)
	assert.Equal(t, 1, f.notified)
}

func TestGetHTTPServerError(t *testing.T) {
	f := newFixture(t, status{})
	assert.Nil(t, f.invoke(t, "get_http_server_error", `{}`))

	failure := &events.ServerFailure{Port: 17889, Message: "address already in use"}
	f = newFixture(t, status{failure: failure})
	assert.Equal(t, failure, f.invoke(t, "get_http_server_error", `{}`))
}
