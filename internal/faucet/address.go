package faucet

import "strings"

const (
	addressPrefix = "s1"
	addressLength = 35
)

// NormalizeText collapses line breaks and parentheses to spaces so that an
// address glued to surrounding punctuation still tokenizes cleanly.
func NormalizeText(text string) string {
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "(", " ", ")", " ")
	return replacer.Replace(text)
}

// ExtractAddress scans text left to right and returns the first token that
// structurally matches a transparent address: the `s1` prefix followed by 33
// alphanumeric characters. Tokens are maximal alphanumeric runs, so a valid
// address embedded in a longer token does not match and a short prefix of an
// address never wins over the full token. No checksum validation is performed.
func ExtractAddress(text string) (string, bool) {
	for _, token := range strings.FieldsFunc(text, isTokenBoundary) {
		if len(token) == addressLength && strings.HasPrefix(token, addressPrefix) {
			return token, true
		}
	}
	return "", false
}

func isTokenBoundary(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r >= 'a' && r <= 'z':
		return false
	case r >= 'A' && r <= 'Z':
		return false
	}
	return true
}
