// Package markdown renders the small markdown subset produced by the
// assistant (bold, italic, bullet lists) into HTML fragments for the chat
// widget.
package markdown

import (
	"html"
	"regexp"
	"strings"
)

const (
	listOpen  = `<ul class="list-disc ml-6 mt-2 space-y-1">`
	listClose = `</ul>`
	paraOpen  = `<p class="mb-2">`
	paraClose = `</p>`
)

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
)

// Render converts text to HTML. Literal text is escaped first, then
// **bold** and *italic* markers are substituted within a line, then lines
// starting with "* " or "- " are grouped into one <ul> per run and every
// other non-blank line becomes a paragraph. Render never fails; unmatched
// markers pass through unchanged.
func Render(text string) string {
	if text == "" {
		return ""
	}

	s := html.EscapeString(text)
	s = boldRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = italicRe.ReplaceAllString(s, "<em>$1</em>")

	var out []string
	inList := false
	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(raw)

		if item, ok := bulletItem(line); ok {
			if !inList {
				out = append(out, listOpen)
				inList = true
			}
			out = append(out, "<li>"+item+"</li>")
			continue
		}

		if inList {
			out = append(out, listClose)
			inList = false
		}
		if line != "" {
			out = append(out, paraOpen+line+paraClose)
		}
	}
	if inList {
		out = append(out, listClose)
	}
	return strings.Join(out, "\n")
}

func bulletItem(line string) (string, bool) {
	for _, marker := range []string{"* ", "- "} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
