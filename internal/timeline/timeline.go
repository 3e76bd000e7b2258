// Package timeline orders events chronologically.
package timeline

import (
	"sort"
	"time"

	"github.com/iyulab/log-coroner/internal/model"
)

const (
	// FileSystemSource marks the entry synthesized when a file yields no events.
	FileSystemSource = "File System"
	// EvidenceCreated is the text of the synthesized entry.
	EvidenceCreated = "Evidence file created"
	// ConfidenceHigh is assigned to every entry derived from a parsed event.
	ConfidenceHigh = "High"
)

// Build maps events to a timeline sorted by timestamp. When there are no events a single
// entry at the evidence file's creation time is synthesized, so the result is never empty.
func Build(events []model.SecurityEvent, meta model.FileMetadata) model.Timeline {
	return BuildAt(events, meta, time.Now())
}

// BuildAt is Build with an explicit fallback time for evidence without metadata.
func BuildAt(events []model.SecurityEvent, meta model.FileMetadata, now time.Time) model.Timeline {
	entries := make([]model.TimelineEvent, 0, len(events))
	for _, ev := range events {
		entries = append(entries, model.TimelineEvent{
			Timestamp:  ev.Timestamp.UTC(),
			Event:      ev.Description,
			Source:     ev.EventType,
			Confidence: ConfidenceHigh,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	if len(entries) == 0 {
		ts := meta.Created
		if ts.IsZero() {
			ts = meta.Modified
		}
		if ts.IsZero() {
			ts = now
		}
		entries = append(entries, model.TimelineEvent{
			Timestamp:  ts.UTC(),
			Event:      EvidenceCreated,
			Source:     FileSystemSource,
			Confidence: ConfidenceHigh,
		})
	}

	return model.Timeline{
		Events:        entries,
		FirstActivity: entries[0].Timestamp,
		LastActivity:  entries[len(entries)-1].Timestamp,
	}
}
