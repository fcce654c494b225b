package util

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripMarkup removes markup tags from a message body. Odoo delivers
// bodies as HTML fragments.
func StripMarkup(body string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(body, ""))
}
