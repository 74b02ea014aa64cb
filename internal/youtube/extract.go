// Package youtube resolves video ids and fetches timed transcripts.
package youtube

import (
	"errors"
	"regexp"
)

// ErrInvalidURL is returned when no video id can be extracted from a URL.
var ErrInvalidURL = errors.New("not a recognized YouTube URL")

// URL formats accepted: watch?v=, youtu.be/, embed/, shorts/, and watch
// URLs where v= is not the first query parameter.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([A-Za-z0-9_-]{6,20})`),
	regexp.MustCompile(`youtube\.com/watch\?.*[?&]v=([A-Za-z0-9_-]{6,20})`),
}

// ExtractVideoID parses the video id out of any supported YouTube URL form.
func ExtractVideoID(url string) (string, error) {
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}
	return "", ErrInvalidURL
}
