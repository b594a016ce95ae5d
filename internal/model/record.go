package model

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies which upstream collector produced a raw record.
type Source string

const (
	SourceKaggle    Source = "kaggle"
	SourceSimulated Source = "simulated"
	SourceYouTube   Source = "youtube"
)

// sourcePriority orders sources for cross-source dedup tie-breaks.
// Lower value wins when timestamps are equal.
var sourcePriority = map[Source]int{
	SourceKaggle:    0,
	SourceSimulated: 1,
	SourceYouTube:   2,
}

// AllSources returns the known sources in priority order.
func AllSources() []Source {
	return []Source{SourceKaggle, SourceSimulated, SourceYouTube}
}

// IsValid reports whether s is a known source tag.
func (s Source) IsValid() bool {
	_, ok := sourcePriority[s]
	return ok
}

// Priority returns the dedup tie-break rank of the source (lower wins).
func (s Source) Priority() int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return len(sourcePriority)
}

// EventType classifies what a LearnerActivityRecord measures.
type EventType string

const (
	EventView             EventType = "view"
	EventCompletion       EventType = "completion"
	EventScore            EventType = "score"
	EventEngagementSignal EventType = "engagement_signal"
)

// IsValid reports whether e is a known event type.
func (e EventType) IsValid() bool {
	switch e {
	case EventView, EventCompletion, EventScore, EventEngagementSignal:
		return true
	}
	return false
}

// RawRef points back to the raw object and row a record came from.
type RawRef struct {
	Zone string `json:"zone"`
	Path string `json:"path"`
	Row  int    `json:"row"`
}

// String renders the reference as zone://path#row for logs and quarantine entries.
func (r RawRef) String() string {
	return fmt.Sprintf("%s://%s#%d", r.Zone, r.Path, r.Row)
}

// LearnerActivityRecord is the canonical record every source normalizes into.
// (RecordID, Source) is unique across the merged dataset; duplicates are
// resolved last-write-wins on Timestamp.
type LearnerActivityRecord struct {
	RecordID   string    `json:"record_id"`
	Source     Source    `json:"source"`
	LearnerID  string    `json:"learner_id,omitempty"` // empty for non-learner sources
	CourseID   string    `json:"course_or_content_id"`
	EventType  EventType `json:"event_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	RawRef     RawRef    `json:"raw_ref"`
	// TimeUnit is set when Value carries a duration (seconds); avg_time_spent
	// only aggregates engagement signals whose unit is time.
	TimeUnit bool `json:"time_unit,omitempty"`
}

// DedupKey identifies a record within its own source batch.
func (r LearnerActivityRecord) DedupKey() string {
	return string(r.Source) + "|" + r.RecordID
}

// NaturalKey returns a source-independent identity for cross-source dedup,
// or "" when the record cannot plausibly collide with another source
// (no learner attached).
func (r LearnerActivityRecord) NaturalKey() string {
	if r.LearnerID == "" {
		return ""
	}
	return strings.Join([]string{
		r.LearnerID,
		r.CourseID,
		string(r.EventType),
		r.Timestamp.UTC().Format(time.RFC3339),
	}, "|")
}

// Supersedes reports whether r wins over other under the dedup rule:
// latest timestamp first, source priority on ties.
func (r LearnerActivityRecord) Supersedes(other LearnerActivityRecord) bool {
	if !r.Timestamp.Equal(other.Timestamp) {
		return r.Timestamp.After(other.Timestamp)
	}
	return r.Source.Priority() < other.Source.Priority()
}
