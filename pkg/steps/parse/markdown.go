package parse

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	Code     string
	Language string
}

// ExtractCodeBlocks returns the fenced code blocks of a markdown text, in
// order. When languages are given, only blocks tagged with one of them
// (case-insensitive) are returned.
func ExtractCodeBlocks(markdownText string, languages ...string) ([]CodeBlock, error) {
	var blocks []CodeBlock
	source := []byte(markdownText)

	wanted := map[string]bool{}
	for _, l := range languages {
		wanted[strings.ToLower(l)] = true
	}

	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(cb.Language(source)))
		if len(wanted) > 0 && !wanted[lang] {
			return ast.WalkSkipChildren, nil
		}
		code := ""
		if cb.Lines().Len() > 0 {
			code = string(source[cb.Lines().At(0).Start:cb.Lines().At(cb.Lines().Len()-1).Stop])
		}
		blocks = append(blocks, CodeBlock{Code: code, Language: lang})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// StripCodeFences turns a model supplied file body into plain code. A body
// that starts with a fence is replaced by the content of its fenced blocks;
// anything else is kept as is. Leading newlines are removed in both cases.
func StripCodeFences(code string) string {
	if strings.HasPrefix(strings.TrimLeft(code, " \t\r\n"), "```") {
		blocks, err := ExtractCodeBlocks(code)
		if err == nil && len(blocks) > 0 {
			parts := make([]string, 0, len(blocks))
			for _, b := range blocks {
				parts = append(parts, b.Code)
			}
			code = strings.Join(parts, "\n")
		} else {
			code = strings.ReplaceAll(code, "```csharp", "")
			code = strings.ReplaceAll(code, "```", "")
		}
	}
	return strings.TrimLeft(code, "\r\n")
}
