package llm

import (
	"fmt"
	"strings"
)

// SourceTranscript pairs a transcript with its source video for attribution.
type SourceTranscript struct {
	VideoID string
	Text    string
}

// CleanPrompt builds the prompt for the per-video transcript cleaning pass.
func CleanPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Clean and improve the following YouTube video transcript. Remove:\n")
	b.WriteString("1. Filler words (um, uh, like, you know, etc.)\n")
	b.WriteString("2. Sponsorship segments and advertisements\n")
	b.WriteString("3. YouTube-specific phrases (like and subscribe, hit the bell, etc.)\n")
	b.WriteString("4. Repetitive or redundant content\n")
	b.WriteString("5. Non-speech elements in brackets\n\n")
	b.WriteString("Keep the core content and maintain readability. Return only the cleaned transcript.\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

// SummaryPrompt builds the prompt for a single-video summary.
func SummaryPrompt(videoID, transcript string) string {
	var b strings.Builder
	b.WriteString("Provide a comprehensive summary of the following YouTube video transcript.\n\n")
	fmt.Fprintf(&b, "Video: %s\n\n", videoID)
	b.WriteString("Include the main topics and key points, important insights or takeaways, ")
	b.WriteString("any actionable advice, and the overall conclusion. ")
	b.WriteString("Format the summary in clear, well-structured paragraphs.\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

// SynthesisPrompt builds the consolidated research-report prompt. Transcripts
// are concatenated in submission order, each tagged with its source video id
// so the report can attribute claims back to sources.
func SynthesisPrompt(clusterName string, transcripts []SourceTranscript) string {
	var b strings.Builder
	b.WriteString("Create a comprehensive research report based on the following collection of YouTube video transcripts.\n\n")
	fmt.Fprintf(&b, "Research Topic: %s\n", clusterName)
	fmt.Fprintf(&b, "Number of Videos: %d\n\n", len(transcripts))
	b.WriteString("Structure the report with these sections:\n")
	b.WriteString("1. **Introduction** - overview, scope and methodology\n")
	b.WriteString("2. **Key Takeaways** - main insights, common themes and patterns\n")
	b.WriteString("3. **Detailed Analysis** - breakdown of key concepts and findings\n")
	b.WriteString("4. **Contradictions and Debates** - where sources disagree, differing perspectives\n")
	b.WriteString("5. **Actionable Steps** - practical recommendations and next steps\n")
	b.WriteString("6. **Conclusion** - summary of findings and implications\n\n")
	b.WriteString("Format the output in Markdown with proper headings, bullet points, ")
	b.WriteString("and emphasis. Use [[WikiLinks]] format for key concepts. ")
	b.WriteString("Attribute claims to their source video where relevant.\n\n")
	b.WriteString("Video Transcripts:\n")
	for i, t := range transcripts {
		fmt.Fprintf(&b, "\nVideo %d (%s):\n%s\n", i+1, t.VideoID, t.Text)
	}
	return b.String()
}

// KeywordsPrompt builds the wikilink keyword-extraction prompt.
func KeywordsPrompt(report string) string {
	var b strings.Builder
	b.WriteString("Extract important concepts, terms, and keywords from the following text ")
	b.WriteString("that would be valuable as WikiLinks in a knowledge graph. ")
	b.WriteString("Focus on technical terms, concepts and theories, names of people, places, ")
	b.WriteString("or organizations, and important methodologies. ")
	b.WriteString("Return only a comma-separated list of keywords, without explanations.\n\n")
	b.WriteString("Text:\n")
	b.WriteString(report)
	return b.String()
}

// StripFences removes markdown code fences some models wrap output in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
