package actions

import (
	"html"
	"strings"

	"mvdan.cc/xurls/v2"
)

// linkMatcher finds URLs and e-mail addresses in plain text.
var linkMatcher = xurls.Relaxed()

// RenderHTML converts plain text into a minimal HTML body: the text is escaped,
// http(s) URLs and e-mail addresses become links and newlines become <br>.
func RenderHTML(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range linkMatcher.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		b.WriteString(linkFor(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))

	out := strings.ReplaceAll(b.String(), "\r\n", "\n")
	return strings.ReplaceAll(out, "\n", "<br>\n")
}

// linkFor renders one match. Only http(s) and mail addresses are linked; bare
// domains and other schemes stay text.
func linkFor(match string) string {
	esc := html.EscapeString(match)
	lower := strings.ToLower(match)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return `<a href="` + esc + `">` + esc + `</a>`
	case strings.HasPrefix(lower, "mailto:"):
		return `<a href="` + esc + `">` + html.EscapeString(match[len("mailto:"):]) + `</a>`
	case !strings.Contains(match, "://") && strings.Contains(match, "@"):
		return `<a href="mailto:` + esc + `">` + esc + `</a>`
	default:
		return esc
	}
}
