package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoButtonMarker in a reply asks for the reply to be sent without the
// "full answer" button.
const NoButtonMarker = "[NO_BUTTON]"

// MaxMessageRunes is Telegram's text limit per message.
const MaxMessageRunes = 4096

var headingRE = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)

// Clean tidies model output for Telegram Markdown: heading markers at line
// start are dropped (#hashtags stay), and "** text**" becomes "**text**".
// Fenced code blocks pass through untouched.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	parts := strings.Split(text, "```")
	for i := 0; i < len(parts); i += 2 { // even parts are outside fences
		p := headingRE.ReplaceAllString(parts[i], "")
		p = strings.ReplaceAll(p, "### ", "")
		p = strings.ReplaceAll(p, "## ", "")
		p = strings.ReplaceAll(p, "** ", "**")
		p = strings.ReplaceAll(p, " **", "**")
		parts[i] = p
	}
	return strings.TrimSpace(strings.Join(parts, "```"))
}

// StripNoButton removes the marker and reports whether it was present.
func StripNoButton(text string) (string, bool) {
	if !strings.Contains(text, NoButtonMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, NoButtonMarker, "")), true
}

// Split cuts text into parts of at most size runes, preferring a newline or
// space near the end of each window.
func Split(text string, size int) []string {
	if size <= 0 {
		size = MaxMessageRunes
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	var out []string
	r := []rune(text)
	for len(r) > size {
		cut := size
		for i := size; i > size*3/4; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == size {
			for i := size; i > size*3/4; i-- {
				if unicode.IsSpace(r[i-1]) {
					cut = i
					break
				}
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

// meaningfulRunes counts non-space runes.
func meaningfulRunes(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
