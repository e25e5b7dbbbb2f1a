// Package email holds helpers for addressing people by their email address.
package email

import (
	"strings"
	"unicode"
)

// GreetingName guesses a first name from the local part of an address:
// "asha.verma+certs@example.com" becomes "Asha". Addresses with no
// alphabetic leading segment fall back to "there".
func GreetingName(address string) string {
	local, _, _ := strings.Cut(address, "@")
	local, _, _ = strings.Cut(local, "+")

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) == 0 || !startsWithLetter(parts[0]) {
		return "there"
	}
	return capitalize(strings.ToLower(parts[0]))
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return unicode.IsLetter(r)
	}
	return false
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
