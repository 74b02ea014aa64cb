package llm

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

const (
	keywordMaxTokens = 500
	minKeywordLen    = 3
)

// ExtractKeywords asks the client for wikilink-worthy keywords in the report.
func ExtractKeywords(ctx context.Context, client Client, report string) ([]string, error) {
	raw, err := client.Complete(ctx, KeywordsPrompt(report), keywordMaxTokens)
	if err != nil {
		return nil, err
	}

	var keywords []string
	for _, kw := range strings.Split(raw, ",") {
		kw = strings.TrimSpace(kw)
		if len(kw) >= minKeywordLen {
			keywords = append(keywords, kw)
		}
	}
	return keywords, nil
}

// AddWikiLinks wraps whole-word keyword occurrences as [[WikiLinks]].
// Longest keywords are applied first to avoid partial-match splits.
func AddWikiLinks(text string, keywords []string) string {
	sorted := make([]string, len(keywords))
	copy(sorted, keywords)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	linked := text
	for _, kw := range sorted {
		p, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			continue
		}
		linked = wrapMatches(linked, p)
	}
	return linked
}

var linkPattern = regexp.MustCompile(`\[\[.*?\]\]`)

// wrapMatches wraps every match of p in [[...]], skipping occurrences that
// overlap an existing link. Overlap is checked against full link spans, so a
// keyword inside a longer linked phrase is left alone.
func wrapMatches(text string, p *regexp.Regexp) string {
	links := linkPattern.FindAllStringIndex(text, -1)
	inLink := func(start, end int) bool {
		for _, l := range links {
			if start < l[1] && end > l[0] {
				return true
			}
		}
		return false
	}

	var b strings.Builder
	last := 0
	wrapped := false
	for _, loc := range p.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if inLink(start, end) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString("[[")
		b.WriteString(text[start:end])
		b.WriteString("]]")
		last = end
		wrapped = true
	}
	if !wrapped {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}
