package ingest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplateSelectors are stripped before text extraction. Feed bodies carry
// full article markup from some outlets, including share widgets and
// newsletter signup blocks.
const boilerplateSelectors = "script, style, nav, footer, header, aside, form, iframe, noscript, figure, figcaption, .advertisement, .newsletter, .related-articles, .share"

// blockSelectors are the elements whose text we keep, joined with paragraph
// breaks.
const blockSelectors = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

// StripHTML renders feed-provided HTML into clean text. Plain text passes
// through untouched apart from whitespace collapsing.
func StripHTML(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseWhitespace(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseWhitespace(fragment)
	}
	doc.Find(boilerplateSelectors).Remove()

	var b strings.Builder
	doc.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks would double their text; only leaf-most matches count.
		if s.Find(blockSelectors).Length() > 0 {
			return
		}
		text := collapseWhitespace(s.Text())
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	})

	if b.Len() > 0 {
		return b.String()
	}
	// No block structure at all, e.g. a description that is one <a> or bare
	// inline markup.
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
