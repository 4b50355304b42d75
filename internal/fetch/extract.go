package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose text content is never readable.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// extractHTML tokenizes HTML and returns (title, readable text). A single
// tokenizer pass is enough here: the scrape tool wants flat text, not
// document structure.
func extractHTML(raw string) (title, content string) {
	z := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	var skipDepth int
	var inTitle bool

	for {
		switch z.Next() {
		case html.ErrorToken:
			return title, cleanWhitespace(b.String())

		case html.StartTagToken:
			tok := z.Token()
			if skipElements[tok.DataAtom] {
				skipDepth++
			}
			if tok.DataAtom == atom.Title {
				inTitle = true
			}
			if isBlockElement(tok.DataAtom) {
				b.WriteString("\n")
			}

		case html.EndTagToken:
			tok := z.Token()
			if skipElements[tok.DataAtom] && skipDepth > 0 {
				skipDepth--
			}
			if tok.DataAtom == atom.Title {
				inTitle = false
			}

		case html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Br || isBlockElement(tok.DataAtom) {
				b.WriteString("\n")
			}

		case html.TextToken:
			text := strings.TrimSpace(z.Token().Data)
			if text == "" {
				continue
			}
			if inTitle {
				if title == "" {
					title = text
				}
				continue
			}
			if skipDepth == 0 {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
	}
}

// isBlockElement returns true for elements that typically render as blocks.
func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and drops
// consecutive blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
