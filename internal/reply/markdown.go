package reply

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Flatten renders markdown as plain text. LINE shows message text
// verbatim, so emphasis markers, heading hashes, and code fences coming
// out of the model would otherwise reach the user as literal symbols.
func Flatten(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.ListItem,
				*ast.FencedCodeBlock, *ast.CodeBlock, *ast.Blockquote:
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.AutoLink:
			b.Write(v.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			writeLines(&b, v.Lines(), src)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&b, v.Lines(), src)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return collapseBlankLines(strings.TrimSpace(b.String()))
}

// writeLines copies raw source lines of a code block.
func writeLines(b *strings.Builder, lines *text.Segments, src []byte) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
}

// collapseBlankLines reduces runs of blank lines to a single one.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
