package relay

import (
	"html"
	"strings"
)

// Header renders the anonymized sender identity line for HTML parse mode.
func Header(icon, alias string) string {
	var b strings.Builder
	b.WriteString("<b>")
	if icon != "" {
		b.WriteString(html.EscapeString(icon))
		b.WriteString(" ")
	}
	b.WriteString(html.EscapeString(alias))
	b.WriteString("</b>")
	return b.String()
}

// renderBody joins the header and body text according to the recipient's
// layout preference. The body is escaped; the header is already safe HTML.
func renderBody(header, text string, compact, edited bool) string {
	var b strings.Builder
	b.WriteString(header)
	if edited {
		b.WriteString(" <i>(edited)</i>")
	}
	if text != "" {
		if compact {
			b.WriteString("\n")
		} else {
			b.WriteString("\n\n")
		}
		b.WriteString(html.EscapeString(text))
	}
	return b.String()
}

// escapeText escapes plain text for HTML parse mode.
func escapeText(s string) string { return html.EscapeString(s) }

// preview trims text for the ephemeral quote-link entry.
func preview(text string) string {
	const maxLen = 80
	text = strings.TrimSpace(text)
	rs := []rune(text)
	if len(rs) <= maxLen {
		return text
	}
	return string(rs[:maxLen-1]) + "…"
}
