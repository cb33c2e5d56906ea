// Package util holds small helpers shared across the workers.
package util

import "unicode"

// CountTokens approximates a BPE token count by counting words and
// punctuation separately. It serves as the floor of the broker admission
// estimate when no model-aware encoder is available: short-word-heavy text
// tokenizes closer to one token per word than to chars/4.
func CountTokens(s string) int {
	inWord := false
	count := 0
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if inWord {
				count++
				inWord = false
			}
		case unicode.IsPunct(r):
			if inWord {
				count++
				inWord = false
			}
			count++
		default:
			inWord = true
		}
	}
	if inWord {
		count++
	}
	return count
}
