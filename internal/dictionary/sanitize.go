package dictionary

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// htmlTagPattern matches real HTML elements only. Attributes must carry a
// value, so placeholders like <PlayerName> and comparisons like a<b then c>d
// are left alone.
var htmlTagPattern = regexp.MustCompile(`(?i)</?(?:a|b|i|u|s|p|br|hr|em|strong|span|div|li|ul|ol|h[1-6]|code|pre|table|tr|td|th|font|sub|sup|script|style)(?:\s+[a-z_:][-a-z0-9_:.]*\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'<>]+))*\s*/?>`)

func plainTextPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText trims s and, when it contains HTML elements the model copied from
// the source chunk, removes those elements. Any other angle-bracket text is
// kept verbatim. If nothing would remain, the trimmed input is returned.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	tags := htmlTagPattern.FindAllStringIndex(s, -1)
	if len(tags) == 0 {
		return s
	}
	// Escape everything outside the matched elements so the policy treats it as text.
	var b strings.Builder
	last := 0
	for _, loc := range tags {
		b.WriteString(html.EscapeString(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(html.EscapeString(s[last:]))

	out := strings.TrimSpace(html.UnescapeString(plainTextPolicy().Sanitize(b.String())))
	if out == "" {
		return s
	}
	return out
}
