// Package pii masks personally-identifying substrings out of log output.
package pii

import "regexp"

var emailRegexp = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,4}`)

// Mask replaces email addresses in s with a fixed placeholder.
func Mask(s string) string {
	return emailRegexp.ReplaceAllString(s, "***@***.***")
}
