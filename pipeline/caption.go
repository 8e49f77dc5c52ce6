package pipeline

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/width"
)

// Telegram truncates media captions at this many characters; cut earlier so
// the closing tag survives.
const maxCaptionRunes = 1000

// CaptionBuilder centralizes parse-mode selection and escaping so call sites
// never hand-assemble HTML.
type CaptionBuilder struct{}

// Bold returns the title as an HTML-bold caption.
func (CaptionBuilder) Bold(title string) string {
	return "<b>" + html.EscapeString(truncateDisplay(title, maxCaptionRunes)) + "</b>"
}

// BoldLink wraps the title in a bold hyperlink, the shape used for oversize
// link replies.
func (CaptionBuilder) BoldLink(title, url string) string {
	return fmt.Sprintf(`<a href="%s"><b>%s</b></a>`,
		html.EscapeString(url), html.EscapeString(truncateDisplay(title, maxCaptionRunes)))
}

// MusicLink renders the background-audio link appended under gallery
// captions.
func (CaptionBuilder) MusicLink(title, url string) string {
	if title == "" {
		title = "背景音乐"
	}
	return fmt.Sprintf(`<a href="%s">🎵 %s</a>`,
		html.EscapeString(url), html.EscapeString(truncateDisplay(title, 100)))
}

// Plain strips nothing but enforces the length cap, for plain parse mode.
func (CaptionBuilder) Plain(title string) string {
	return truncateDisplay(title, maxCaptionRunes)
}

// truncateDisplay cuts s to a display width budget, counting East Asian wide
// runes as two columns so CJK titles do not blow past the visual budget, and
// appends an ellipsis when something was dropped.
func truncateDisplay(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	used := 0
	var b strings.Builder
	for _, r := range s {
		w := 1
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w = 2
		}
		if used+w > budget {
			return b.String() + "…"
		}
		b.WriteRune(r)
		used += w
	}
	return s
}
