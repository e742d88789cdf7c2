// Package sanitize turns the HTML-ish descriptions calendar providers emit
// into plain text.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags end a line when opened or closed.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// PlainText strips all markup from s, decodes entities and collapses runs
// of whitespace. Block-level tags become line breaks. Text inside script and
// style elements is discarded. The result is trimmed.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return squish(s)
	}

	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was extracted.
			return squish(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "script" || tag == "style":
				skip++
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case (tag == "script" || tag == "style") && skip > 0:
				skip--
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		}
	}
}

// FirstLine returns the first non-empty line of PlainText(s).
func FirstLine(s string) string {
	for _, line := range strings.Split(PlainText(s), "\n") {
		if line != "" {
			return line
		}
	}
	return ""
}

// squish collapses horizontal whitespace inside each line, drops blank
// lines and trims the result.
func squish(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
