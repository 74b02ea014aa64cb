// Package models defines the domain types shared across the refinery service.
package models

import "time"

// ClusterStatus represents the lifecycle state of a research cluster.
type ClusterStatus string

const (
	// ClusterCreated is the initial state after a cluster is persisted.
	ClusterCreated ClusterStatus = "created"
	// ClusterIngesting means transcript fetch jobs are in flight.
	ClusterIngesting ClusterStatus = "ingesting"
	// ClusterCleaning means the majority of videos are in the LLM cleaning stage.
	ClusterCleaning ClusterStatus = "cleaning"
	// ClusterReady means every video reached a terminal state and synthesis may start.
	ClusterReady ClusterStatus = "ready"
	// ClusterSynthesizing means the consolidated report job is in flight.
	ClusterSynthesizing ClusterStatus = "synthesizing"
	// ClusterComplete means the report was written; ReportPath is set.
	ClusterComplete ClusterStatus = "complete"
	// ClusterFailed is terminal; Error carries the cluster-level cause.
	ClusterFailed ClusterStatus = "failed"
)

// Terminal reports whether no further transition can leave this status.
func (s ClusterStatus) Terminal() bool {
	return s == ClusterComplete || s == ClusterFailed
}

// VideoStatus represents the per-video processing state.
type VideoStatus string

const (
	VideoPending  VideoStatus = "pending"
	VideoFetching VideoStatus = "fetching"
	VideoFetched  VideoStatus = "fetched"
	VideoCleaning VideoStatus = "cleaning"
	VideoCleaned  VideoStatus = "cleaned"
	VideoFailed   VideoStatus = "failed"
)

// TerminalFor reports whether the status is terminal given the cluster's
// cleaning flag. With cleaning enabled a fetched video still has a cleaning
// job ahead of it, so only cleaned and failed count.
func (s VideoStatus) TerminalFor(cleanTranscripts bool) bool {
	switch s {
	case VideoFailed, VideoCleaned:
		return true
	case VideoFetched:
		return !cleanTranscripts
	default:
		return false
	}
}

// VideoEntry tracks one submitted URL through fetch and optional cleaning.
type VideoEntry struct {
	URL               string      `json:"url"`
	VideoID           string      `json:"video_id,omitempty"`
	Status            VideoStatus `json:"status"`
	RawTranscript     string      `json:"raw_transcript,omitempty"`
	CleanedTranscript string      `json:"cleaned_transcript,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Transcript returns the text synthesis should use, preferring the cleaned
// version when present.
func (v *VideoEntry) Transcript() string {
	if v.CleanedTranscript != "" {
		return v.CleanedTranscript
	}
	return v.RawTranscript
}

// Usable reports whether this entry can contribute to synthesis.
func (v *VideoEntry) Usable() bool {
	return v.Status != VideoFailed && v.Transcript() != ""
}

// ResearchCluster is the canonical record for a multi-video research session.
// The lifecycle manager is its sole mutator; everyone else gets snapshots.
type ResearchCluster struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Videos           []VideoEntry  `json:"videos"`
	CleanTranscripts bool          `json:"clean_transcripts"`
	Status           ClusterStatus `json:"status"`
	ReportPath       string        `json:"report_path,omitempty"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Entry returns the video entry with the given id, or nil.
func (c *ResearchCluster) Entry(videoID string) *VideoEntry {
	for i := range c.Videos {
		if c.Videos[i].VideoID == videoID {
			return &c.Videos[i]
		}
	}
	return nil
}

// AllVideosTerminal reports whether every entry reached a terminal state.
func (c *ResearchCluster) AllVideosTerminal() bool {
	for i := range c.Videos {
		if !c.Videos[i].Status.TerminalFor(c.CleanTranscripts) {
			return false
		}
	}
	return true
}

// UsableVideos returns the entries eligible for synthesis, in submission order.
func (c *ResearchCluster) UsableVideos() []VideoEntry {
	usable := make([]VideoEntry, 0, len(c.Videos))
	for i := range c.Videos {
		if c.Videos[i].Usable() {
			usable = append(usable, c.Videos[i])
		}
	}
	return usable
}

// StatusProjection is the polling-friendly snapshot served to clients.
type StatusProjection struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     ClusterStatus `json:"status"`
	ReportPath string        `json:"report_path,omitempty"`
	Error      string        `json:"error,omitempty"`
	Total      int           `json:"total"`
	Pending    int           `json:"pending"`
	InProgress int           `json:"in_progress"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Project builds the StatusProjection for the cluster's current state.
func (c *ResearchCluster) Project() StatusProjection {
	p := StatusProjection{
		ID:         c.ID,
		Name:       c.Name,
		Status:     c.Status,
		ReportPath: c.ReportPath,
		Error:      c.Error,
		Total:      len(c.Videos),
		UpdatedAt:  c.UpdatedAt,
	}
	for i := range c.Videos {
		switch c.Videos[i].Status {
		case VideoPending:
			p.Pending++
		case VideoFetching, VideoCleaning:
			p.InProgress++
		case VideoFailed:
			p.Failed++
		case VideoFetched:
			if c.CleanTranscripts {
				p.InProgress++
			} else {
				p.Succeeded++
			}
		case VideoCleaned:
			p.Succeeded++
		}
	}
	return p
}

// TaskStatus tracks a standalone single-video task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskResult is the stored outcome of a single-video task.
type TaskResult struct {
	TaskID         string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	VideoID        string     `json:"video_id,omitempty"`
	TranscriptPath string     `json:"transcript_path,omitempty"`
	SummaryPath    string     `json:"summary_path,omitempty"`
	WordCount      int        `json:"word_count,omitempty"`
	Error          string     `json:"error,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
