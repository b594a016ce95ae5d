package utils

import "fmt"

// Zone path conventions. Raw batches live under per-source prefixes; derived
// outputs are keyed by logical date, with run-scoped prefixes for anything
// that is published by pointer swap.

// RawSourcePrefix is where a source's collectors deposit batches.
func RawSourcePrefix(source string) string {
	return source + "/"
}

// CleanPath holds a run's cleaned records for one source.
func CleanPath(date, runID, source string) string {
	return fmt.Sprintf("runs/%s/%s/%s.jsonl", date, runID, source)
}

// QuarantinePath holds a run's rejected records for one source, queryable by
// (source, logical date).
func QuarantinePath(date, source string) string {
	return fmt.Sprintf("quarantine/%s/%s.jsonl", date, source)
}

// MergedPath holds the run's merged dataset.
func MergedPath(date, runID string) string {
	return fmt.Sprintf("runs/%s/%s/merged.jsonl", date, runID)
}

// CuratedRunPrefix is the run-scoped staging area for curated outputs.
func CuratedRunPrefix(date, runID string) string {
	return fmt.Sprintf("runs/%s/%s/", date, runID)
}

// CuratedManifestPath is the per-date pointer object readers resolve through.
func CuratedManifestPath(date string) string {
	return fmt.Sprintf("daily/%s/manifest.json", date)
}
