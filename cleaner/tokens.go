package cleaner

import "unicode/utf8"

// runesPerToken approximates tokenizer density for mixed-language text.
const runesPerToken = 3

// EstimateTokens is a fast token estimate: rune count / 3, at least 1 for
// non-empty text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if est := n / runesPerToken; est > 0 {
		return est
	}
	return 1
}

// TruncateTokens cuts text to roughly maxTokens without splitting a rune.
// It reports whether anything was cut.
func TruncateTokens(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text, false
	}
	limit := maxTokens * runesPerToken
	count := 0
	for i := range text {
		if count == limit {
			return text[:i], true
		}
		count++
	}
	return text, false
}
