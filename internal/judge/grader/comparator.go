package grader

import (
	"strings"
)

// Comparator decides whether an actual program output matches the expected
// output for a test case.
type Comparator func(actual, expected string) bool

// ExactTrimmed compares outputs after trimming leading and trailing
// whitespace. This is the default policy.
func ExactTrimmed(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// WhitespaceInsensitive compares outputs token by token, ignoring how the
// whitespace between tokens is arranged.
func WhitespaceInsensitive(actual, expected string) bool {
	actualTokens := strings.Fields(actual)
	expectedTokens := strings.Fields(expected)
	if len(actualTokens) != len(expectedTokens) {
		return false
	}
	for i := range actualTokens {
		if actualTokens[i] != expectedTokens[i] {
			return false
		}
	}
	return true
}
