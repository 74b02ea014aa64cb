package youtube

import (
	"regexp"
	"strings"
)

// Scrub removes common caption noise before any LLM pass: bracketed cues
// like [Music], filler words, and boilerplate outro phrases.
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[.*?\]`),
	regexp.MustCompile(`\(.*?\)`),
	regexp.MustCompile(`(?i)\b(um|uh|ah|er|hmm|you know|i mean|basically|literally)\b`),
	regexp.MustCompile(`(?i)please like and subscribe[^.]*`),
	regexp.MustCompile(`(?i)thanks for watching[^.]*`),
	regexp.MustCompile(`(?i)hit the bell icon[^.]*`),
	regexp.MustCompile(`(?i)comment below[^.]*`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Scrub applies the regex scrub pass to a raw transcript.
func Scrub(transcript string) string {
	cleaned := transcript
	for _, p := range scrubPatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
