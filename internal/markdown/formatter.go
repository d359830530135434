// Package markdown converts the Markdown-like subset emitted by chat models
// into HTML fragments for browser display.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// The passes run in a fixed order on the raw text; applying FormatHTML to
// already-formatted HTML will double-process it.
var (
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe     = regexp.MustCompile(`\*(.*?)\*`)
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")
	inlineCodeRe = regexp.MustCompile("`(.*?)`")
	orderedRe    = regexp.MustCompile(`^[1-9]\. `)
)

// FormatHTML renders model output as an HTML fragment. Pure function: bold,
// italic, fenced code blocks (language tag kept as a class hint), inline
// code, then line-by-line list detection.
func FormatHTML(text string) string {
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicRe.ReplaceAllString(text, "<em>$1</em>")
	text = codeBlockRe.ReplaceAllString(text, `<pre><code class="language-$1">$2</code></pre>`)
	text = inlineCodeRe.ReplaceAllString(text, "<code>$1</code>")
	return formatLists(text)
}

type listKind int

const (
	listNone listKind = iota
	listUnordered
	listOrdered
)

// formatLists wraps consecutive marker lines in <ul>/<ol>. The open list's
// own kind chooses the closing tag, including at end of input and when the
// marker kind switches mid-list.
func formatLists(text string) string {
	lines := strings.Split(text, "\n")
	formatted := make([]string, 0, len(lines))
	open := listNone

	closeTag := func(kind listKind) string {
		if kind == listOrdered {
			return "</ol>"
		}
		return "</ul>"
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			if open == listOrdered {
				formatted = append(formatted, closeTag(open))
				open = listNone
			}
			if open == listNone {
				formatted = append(formatted, "<ul>")
				open = listUnordered
			}
			formatted = append(formatted, fmt.Sprintf("<li>%s</li>", trimmed[2:]))

		case orderedRe.MatchString(trimmed):
			if open == listUnordered {
				formatted = append(formatted, closeTag(open))
				open = listNone
			}
			if open == listNone {
				formatted = append(formatted, "<ol>")
				open = listOrdered
			}
			formatted = append(formatted, fmt.Sprintf("<li>%s</li>", trimmed[3:]))

		default:
			if open != listNone {
				formatted = append(formatted, closeTag(open))
				open = listNone
			}
			formatted = append(formatted, line)
		}
	}

	if open != listNone {
		formatted = append(formatted, closeTag(open))
	}

	return strings.Join(formatted, "\n")
}
