package notify

import (
	"net/url"
	"strings"
)

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%7E", "~",
)

// encodeURIComponent escapes a string the way the storefront's JavaScript
// encodeURIComponent does: spaces become %20 and !'()~ stay literal.
func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}
