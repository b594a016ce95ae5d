package model

import "time"

// QuarantinedRecord is a raw or canonical record that failed normalization or
// validation, retained for audit with the reason attached.
type QuarantinedRecord struct {
	Source       Source                 `json:"source"`
	ScheduledFor string                 `json:"scheduled_for"`
	Stage        StageName              `json:"stage"`
	Reason       string                 `json:"reason"`
	RawRef       RawRef                 `json:"raw_ref"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	QuarantinedAt time.Time             `json:"quarantined_at"`
}
