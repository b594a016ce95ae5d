package model

import "time"

// StageName identifies one node of the fixed pipeline DAG.
type StageName string

const (
	StageNormalize StageName = "normalize"
	StageClean     StageName = "clean"
	StageMerge     StageName = "merge"
	StageAggregate StageName = "aggregate"
	StagePublish   StageName = "publish"
)

// Stages returns the DAG stages in execution order.
func Stages() []StageName {
	return []StageName{StageNormalize, StageClean, StageMerge, StageAggregate, StagePublish}
}

// StageState is the state machine value for a single stage within a run.
type StageState string

const (
	StagePending   StageState = "pending"
	StageRunning   StageState = "running"
	StageSucceeded StageState = "succeeded"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped"
)

// Terminal reports whether the state admits no further transitions
// (failed stages may still re-enter running while retries remain).
func (s StageState) Terminal() bool {
	return s == StageSucceeded || s == StageSkipped
}

// StageStatus captures one stage's progress inside a RunManifest.
type StageStatus struct {
	Stage      StageName  `json:"stage"`
	State      StageState `json:"state"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunState summarizes the whole run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunSkipped   RunState = "skipped"
	RunCancelled RunState = "cancelled"
)

// Active reports whether the run still holds its logical date.
func (s RunState) Active() bool {
	return s == RunPending || s == RunRunning
}

// RunManifest is the persisted record of one orchestrator execution.
// It is immutable once every stage has reached a terminal status.
type RunManifest struct {
	RunID             string                    `json:"run_id"`
	ScheduledFor      string                    `json:"scheduled_for"` // logical date, YYYY-MM-DD
	Forced            bool                      `json:"forced"`
	State             RunState                  `json:"state"`
	StageStatuses     map[StageName]StageStatus `json:"stage_statuses"`
	InputSnapshotRefs []string                  `json:"input_snapshot_refs,omitempty"`
	OutputRefs        []string                  `json:"output_refs,omitempty"`
	RecordsIn         int                       `json:"records_in"`
	RecordsOut        int                       `json:"records_out"`
	Rejections        int                       `json:"rejections"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// NewRunManifest builds a pending manifest with every stage pending.
func NewRunManifest(runID, scheduledFor string, forced bool) *RunManifest {
	now := time.Now().UTC()
	statuses := make(map[StageName]StageStatus, len(Stages()))
	for _, stage := range Stages() {
		statuses[stage] = StageStatus{Stage: stage, State: StagePending}
	}
	return &RunManifest{
		RunID:         runID,
		ScheduledFor:  scheduledFor,
		Forced:        forced,
		State:         RunPending,
		StageStatuses: statuses,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AllStagesSucceeded reports whether every DAG stage reached succeeded.
func (m *RunManifest) AllStagesSucceeded() bool {
	for _, stage := range Stages() {
		if m.StageStatuses[stage].State != StageSucceeded {
			return false
		}
	}
	return true
}
