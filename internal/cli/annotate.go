// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keocheung/AnnaTranslator/internal/furigana"
	"github.com/keocheung/AnnaTranslator/internal/replace"
	"github.com/keocheung/AnnaTranslator/internal/util"
)

// tokenizerFactory builds the tokenizer for offline commands.
var tokenizerFactory = furigana.KagomeFactory

// inputText joins args, or reads stdin when there are none.
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// =============================================================================
// ANNOTATE
// =============================================================================

func newAnnotateCommand(opts *globalOptions) *cobra.Command {
	var spans bool

	cmd := &cobra.Command{
		Use:   "annotate [text...]",
		Short: "Render furigana ruby markup for Japanese text",
		Long: `Tokenizes the text with the configured dictionary and prints HTML ruby
markup (<ruby>漢字<rt>かんじ</rt></ruby>). Reads stdin when no text is given.`,
		Example: `  anna annotate 日本語を勉強する
  echo 今日は晴れ | anna annotate --spans`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}

			dictPath, err := opts.cfg.ResolvedDictionaryPath()
			if err != nil {
				return &ConfigError{Err: err}
			}
			annotator := furigana.NewAnnotator(tokenizerFactory(dictPath), opts.logger)

			if spans {
				result, err := annotator.Spans(text)
				if err != nil {
					return NewCommandError("annotate", "spans", "tokenizer failed", err)
				}
				return printResult(cmd, opts, result, func(w io.Writer) {
					for _, s := range result {
						if s.Reading == "" {
							fmt.Fprintln(w, s.Surface)
							continue
						}
						fmt.Fprintf(w, "%s%s\n", util.PadWidth(s.Surface, 12), RenderConditional(RubyStyle, s.Reading))
					}
				})
			}

			markup, err := annotator.Annotate(text)
			if err != nil {
				return NewCommandError("annotate", "render", "tokenizer failed", err)
			}
			return printResult(cmd, opts, map[string]string{"text": text, "markup": markup}, func(w io.Writer) {
				fmt.Fprintln(w, markup)
			})
		},
	}

	cmd.Flags().BoolVar(&spans, "spans", false, "print surface/reading pairs instead of markup")
	return cmd
}

// =============================================================================
// RULES
// =============================================================================

// ruleCheckResult is the --json output of `rules check`.
type ruleCheckResult struct {
	Report replace.InstallReport `json:"report"`
	Input  string                `json:"input,omitempty"`
	Output string                `json:"output,omitempty"`
}

func newRulesCommand(opts *globalOptions) *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the configured text replacement rules",
	}

	check := &cobra.Command{
		Use:   "check [text...]",
		Short: "Compile the configured rules and optionally apply them to text",
		Long: `Compiles every rule from the configuration and reports which ones were
installed, skipped (blank pattern) or failed to compile. With text, prints
the result of applying the installed rules in order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := replace.NewEngine(opts.logger)
			result := ruleCheckResult{Report: engine.Install(opts.cfg.Replacements)}
			if len(args) > 0 {
				result.Input = strings.Join(args, " ")
				result.Output = engine.Apply(result.Input)
			}

			err := printResult(cmd, opts, result, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d installed, %d skipped, %d failed\n",
					RenderStatus("ok"), result.Report.Installed, result.Report.Skipped, len(result.Report.Failed))
				for _, f := range result.Report.Failed {
					fmt.Fprintf(w, "%s rule %d %q: %s\n", RenderStatus("fail"), f.Index, f.Pattern, f.Message)
				}
				if len(args) > 0 {
					fmt.Fprintln(w, result.Output)
				}
			})
			if err != nil {
				return err
			}
			if len(result.Report.Failed) > 0 {
				return &CommandError{Command: "rules", Action: "check", Reason: fmt.Sprintf("%d rule(s) failed to compile", len(result.Report.Failed)), Code: ExitConfigError}
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the configured rules in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := opts.cfg.Replacements
			return printResult(cmd, opts, specs, func(w io.Writer) {
				if len(specs) == 0 {
					fmt.Fprintln(w, RenderConditional(DimStyle, "no rules configured"))
					return
				}
				for i, s := range specs {
					fmt.Fprintf(w, "%3d  %s -> %q", i, s.Pattern, s.Replacement)
					if s.Flags != "" {
						fmt.Fprintf(w, "  [%s]", s.Flags)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}

	rules.AddCommand(check, list)
	return rules
}
