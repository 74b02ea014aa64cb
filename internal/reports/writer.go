// Package reports writes the durable Markdown output files.
package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	timestampLayout = "20060102_150405"
)

// Writer persists report and transcript files under the output directory.
type Writer struct {
	dir    string
	logger logger.Logger
	now    func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, log logger.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: log,
		now:    time.Now,
	}
}

// WriteClusterReport writes the synthesized report and returns its path.
func (w *Writer) WriteClusterReport(c *models.ResearchCluster, report string) (string, error) {
	if err := os.MkdirAll(w.dir, dirPerm); err != nil {
		return "", models.NewStorageError("create output dir", err)
	}

	ts := w.now().UTC()
	filename := fmt.Sprintf("%s_cluster_report_%s.md", sanitizeName(c.Name), ts.Format(timestampLayout))
	path := filepath.Join(w.dir, filename)

	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", c.Name)
	fmt.Fprintf(&b, "**Generated:** %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Session ID:** %s\n", c.ID)
	fmt.Fprintf(&b, "**Videos Processed:** %d\n\n", len(c.UsableVideos()))
	b.WriteString("---\n\n")
	b.WriteString(report)

	if err := os.WriteFile(path, []byte(b.String()), filePerm); err != nil {
		return "", models.NewStorageError("write report", err)
	}

	w.logger.Info("cluster report written",
		logger.String("cluster_id", c.ID),
		logger.String("path", path))
	return path, nil
}

// WriteVideoResult writes transcript and summary files for a standalone
// single-video task and returns their paths.
func (w *Writer) WriteVideoResult(videoID, transcript, summary, model string) (transcriptPath, summaryPath string, err error) {
	if err := os.MkdirAll(w.dir, dirPerm); err != nil {
		return "", "", models.NewStorageError("create output dir", err)
	}

	ts := w.now().UTC()
	stamp := ts.Format(timestampLayout)

	var tb strings.Builder
	fmt.Fprintf(&tb, "# Transcript: %s\n\n", videoID)
	fmt.Fprintf(&tb, "**Generated:** %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&tb, "**Word Count:** %d\n\n", len(strings.Fields(transcript)))
	tb.WriteString("## Transcript\n\n")
	tb.WriteString(transcript)

	transcriptPath = filepath.Join(w.dir, fmt.Sprintf("%s_transcript_%s.md", videoID, stamp))
	if err := os.WriteFile(transcriptPath, []byte(tb.String()), filePerm); err != nil {
		return "", "", models.NewStorageError("write transcript", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Summary: %s\n\n", videoID)
	fmt.Fprintf(&sb, "**Generated:** %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Model:** %s\n\n", model)
	sb.WriteString("## Summary\n\n")
	sb.WriteString(summary)

	summaryPath = filepath.Join(w.dir, fmt.Sprintf("%s_summary_%s.md", videoID, stamp))
	if err := os.WriteFile(summaryPath, []byte(sb.String()), filePerm); err != nil {
		return "", "", models.NewStorageError("write summary", err)
	}

	return transcriptPath, summaryPath, nil
}

// sanitizeName keeps alphanumerics, spaces, hyphens, and underscores, then
// converts spaces to underscores for a safe filename stem.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		cleaned = "cluster"
	}
	return strings.ReplaceAll(cleaned, " ", "_")
}
