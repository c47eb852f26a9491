package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/unittestgen/pkg/advisor"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/prompts"
	"github.com/go-go-golems/unittestgen/pkg/steps/parse"
	"github.com/go-go-golems/unittestgen/pkg/testio"
	"github.com/go-go-golems/unittestgen/pkg/ui"
)

var csharpLanguages = []string{"csharp", "cs", "c#"}

type generateSettings struct {
	File        string
	Extract     bool
	Save        string
	Yes         bool
	CountTokens bool
	Raw         bool
}

func newGenerateCommand() *cobra.Command {
	s := &generateSettings{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate unit tests for a piece of C# code",
		Long: "Generate unit tests for the C# code in --file, or read from stdin. " +
			"The tests are streamed to stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), s, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&s.File, "file", "f", "", "C# file to generate tests for (default: stdin)")
	cmd.Flags().BoolVar(&s.Extract, "extract", false, "Only print the fenced code of the answer")
	cmd.Flags().StringVar(&s.Save, "save", "", "Save the generated code to this path, e.g. tests/CalculatorTests.cs")
	cmd.Flags().BoolVarP(&s.Yes, "yes", "y", false, "Do not ask before saving")
	cmd.Flags().BoolVar(&s.CountTokens, "count-tokens", false, "Print the number of prompt tokens to stderr")
	cmd.Flags().BoolVar(&s.Raw, "raw", false, "Stream the raw markdown even on a terminal")
	return cmd
}

func readCode(s *generateSettings, stdin *os.File) (string, error) {
	if s.File != "" {
		b, err := os.ReadFile(s.File)
		if err != nil {
			return "", errors.Wrapf(err, "could not read %s", s.File)
		}
		return string(b), nil
	}
	if isatty.IsTerminal(stdin.Fd()) {
		return "", errors.New("no code given: use --file or pipe code on stdin")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "could not read stdin")
	}
	return string(b), nil
}

func runGenerate(ctx context.Context, s *generateSettings, stdin *os.File, out io.Writer) error {
	code, err := readCode(s, stdin)
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("no code given")
	}

	ss, err := stepSettingsForPrompt(viper.GetViper(), prompts.UnitTestGenPrompt)
	if err != nil {
		return err
	}

	if s.CountTokens {
		n, err := countPromptTokens(ss.Chat.EngineOr(""), code)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stderr, "prompt tokens: %d\n", n)
	}

	engine, err := newEngine(ss)
	if err != nil {
		return err
	}
	svc, err := advisor.NewService(engine)
	if err != nil {
		return err
	}

	c, err := svc.GenerateUnitTestStream(ctx, code)
	if err != nil {
		return err
	}

	isTerminal := isatty.IsTerminal(os.Stdout.Fd())
	stream := !s.Extract && s.Save == "" && (s.Raw || !isTerminal)

	var sb strings.Builder
	for r := range c {
		v, err := r.Value()
		if err != nil {
			return err
		}
		sb.WriteString(v)
		if stream {
			if _, err := io.WriteString(out, v); err != nil {
				return err
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	answer := sb.String()

	if stream {
		if !strings.HasSuffix(answer, "\n") {
			_, _ = io.WriteString(out, "\n")
		}
		return nil
	}

	if !s.Extract && s.Save == "" {
		return renderMarkdown(out, answer)
	}

	tests, err := extractCode(answer)
	if err != nil {
		return err
	}
	if s.Extract {
		if _, err := io.WriteString(out, tests); err != nil {
			return err
		}
	}
	if s.Save != "" {
		return saveTests(s, tests, out)
	}
	return nil
}

func countPromptTokens(model string, code string) (int, error) {
	pd, err := prompts.Get(prompts.UnitTestGenPrompt)
	if err != nil {
		return 0, err
	}
	msgs, err := pd.Conversation(map[string]interface{}{"code": code})
	if err != nil {
		return 0, err
	}
	codec, err := helpers.GetCodec(model)
	if err != nil {
		return 0, err
	}
	return helpers.CountTokens(codec, msgs.GetSinglePrompt())
}

// extractCode returns the C# blocks of answer joined, or the whole answer
// without fences when it has none.
func extractCode(answer string) (string, error) {
	blocks, err := parse.ExtractCodeBlocks(answer, csharpLanguages...)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return parse.StripCodeFences(answer), nil
	}
	codes := make([]string, 0, len(blocks))
	for _, b := range blocks {
		codes = append(codes, strings.TrimRight(b.Code, "\n"))
	}
	return strings.Join(codes, "\n\n") + "\n", nil
}

func renderMarkdown(out io.Writer, text string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	styled, err := r.Render(text)
	if err != nil {
		log.Debug().Err(err).Msg("could not render markdown")
		styled = text
	}
	_, err = io.WriteString(out, styled)
	return err
}

func saveTests(s *generateSettings, tests string, out io.Writer) error {
	dir, name := filepath.Split(s.Save)
	if dir == "" {
		dir = "."
	}

	if !s.Yes {
		ok, err := askForConfirmation(fmt.Sprintf("Save unit tests to %s? [y/n]", s.Save))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(out, "not saved")
			return nil
		}
	}

	res := testio.SaveCodeFile(tests, dir, name)
	if res != testio.Success {
		return errors.New(res)
	}
	_, _ = fmt.Fprintf(out, "saved %s\n", s.Save)
	return nil
}

func askForConfirmation(query string) (bool, error) {
	tty_, err := ui.OpenTTY()
	if err != nil {
		return false, errors.Wrap(err, "could not open terminal, use --yes")
	}
	defer func() {
		_ = tty_.Close()
	}()

	ui_ := &input.UI{
		Writer: tty_,
		Reader: tty_,
	}

	answer, err := ui_.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}

	return answer == "y" || answer == "Y", nil
}
