package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterStatusTerminal(t *testing.T) {
	tests := []struct {
		status   ClusterStatus
		terminal bool
	}{
		{ClusterCreated, false},
		{ClusterIngesting, false},
		{ClusterCleaning, false},
		{ClusterReady, false},
		{ClusterSynthesizing, false},
		{ClusterComplete, true},
		{ClusterFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestVideoStatusTerminalFor(t *testing.T) {
	tests := []struct {
		name     string
		status   VideoStatus
		clean    bool
		terminal bool
	}{
		{"pending never terminal", VideoPending, false, false},
		{"fetching never terminal", VideoFetching, true, false},
		{"failed always terminal", VideoFailed, true, true},
		{"cleaned always terminal", VideoCleaned, true, true},
		{"fetched terminal without cleaning", VideoFetched, false, true},
		{"fetched not terminal with cleaning", VideoFetched, true, false},
		{"cleaning not terminal", VideoCleaning, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.TerminalFor(tt.clean))
		})
	}
}

func TestVideoEntryTranscriptPrefersCleaned(t *testing.T) {
	e := VideoEntry{RawTranscript: "raw text"}
	assert.Equal(t, "raw text", e.Transcript())

	e.CleanedTranscript = "cleaned text"
	assert.Equal(t, "cleaned text", e.Transcript())
}

func TestVideoEntryUsable(t *testing.T) {
	assert.False(t, (&VideoEntry{Status: VideoFailed, RawTranscript: "x"}).Usable())
	assert.False(t, (&VideoEntry{Status: VideoFetched}).Usable())
	assert.True(t, (&VideoEntry{Status: VideoFetched, RawTranscript: "x"}).Usable())
	assert.True(t, (&VideoEntry{Status: VideoCleaned, CleanedTranscript: "x"}).Usable())
}

func TestAllVideosTerminal(t *testing.T) {
	c := &ResearchCluster{
		CleanTranscripts: true,
		Videos: []VideoEntry{
			{VideoID: "a", Status: VideoCleaned},
			{VideoID: "b", Status: VideoFetched},
		},
	}
	assert.False(t, c.AllVideosTerminal(), "fetched is not terminal while cleaning is enabled")

	c.CleanTranscripts = false
	assert.True(t, c.AllVideosTerminal())
}

func TestEntryLookup(t *testing.T) {
	c := &ResearchCluster{
		Videos: []VideoEntry{
			{VideoID: "a"},
			{VideoID: "b"},
		},
	}

	e := c.Entry("b")
	if assert.NotNil(t, e) {
		// Entry must alias the slice element so callers can mutate in place.
		e.Status = VideoFetched
		assert.Equal(t, VideoFetched, c.Videos[1].Status)
	}
	assert.Nil(t, c.Entry("missing"))
}

func TestProjectCounts(t *testing.T) {
	c := &ResearchCluster{
		ID:               "c1",
		Name:             "topic",
		Status:           ClusterIngesting,
		CleanTranscripts: true,
		Videos: []VideoEntry{
			{Status: VideoPending},
			{Status: VideoFetching},
			{Status: VideoFetched},
			{Status: VideoCleaning},
			{Status: VideoCleaned},
			{Status: VideoFailed},
		},
	}

	p := c.Project()
	assert.Equal(t, 6, p.Total)
	assert.Equal(t, 1, p.Pending)
	assert.Equal(t, 3, p.InProgress, "fetched counts as in progress while cleaning is enabled")
	assert.Equal(t, 1, p.Succeeded)
	assert.Equal(t, 1, p.Failed)

	c.CleanTranscripts = false
	p = c.Project()
	assert.Equal(t, 2, p.InProgress)
	assert.Equal(t, 2, p.Succeeded, "fetched counts as succeeded without cleaning")
}
