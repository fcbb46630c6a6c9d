// Package sanitize turns rendered article HTML into plain text suitable for
// prompting an inference backend. The reader submits article bodies exactly as
// its view renders them, so markup, scripts and raw link noise have to be
// stripped before the content reaches validation or a backend.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/xurls/v2"
)

var (
	urlRe        = xurls.Strict()
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Clean strips markup and bare URLs from an article body and collapses
// whitespace. Plain-text input passes through unchanged apart from the same
// normalization. Whitespace-only input cleans to the empty string.
func Clean(input string) string {
	text := input

	// Pad tags so adjacent blocks keep a word boundary once markup is gone.
	padded := strings.ReplaceAll(input, "<", " <")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padded))
	if err == nil {
		doc.Find("script, style, noscript, iframe").Remove()
		text = doc.Text()
	}

	text = urlRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
