package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationState is the PipelineRun's coarse state: Ready (nobody has
// picked it up at the current stage) or Active (a stage-slot user is
// working it).
type OperationState string

const (
	OperationStateReady  OperationState = "ready"
	OperationStateActive OperationState = "active"
)

// PipelineRun is one instance of processing a data source through the
// workflow stages. At most one user occupies each of the four stage
// slots at a time; pickup sets the slot for the current workflow stage
// iff it is empty.
type PipelineRun struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	DataSourceID      string           `gorm:"index;not null" json:"data_source_id"`
	RecordDate        time.Time        `gorm:"not null" json:"record_date"`
	WorkflowOperation WorkflowCode     `gorm:"type:text;index;not null" json:"workflow_operation"`
	OperationState    OperationState   `gorm:"type:text;not null" json:"operation_state"`
	CollectionUser    *uuid.UUID       `gorm:"type:uuid" json:"collection_user,omitempty"`
	LoadUser          *uuid.UUID       `gorm:"type:uuid" json:"load_user,omitempty"`
	CheckUser         *uuid.UUID       `gorm:"type:uuid" json:"check_user,omitempty"`
	QAUser            *uuid.UUID       `gorm:"type:uuid" json:"qa_user,omitempty"`
	CreatedAt         time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"not null" json:"updated_at"`
	Tasks             []*PipelineRunTask `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
	SourceTables      []*SourceTable     `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"source_tables,omitempty"`
}

// StageSlot returns the pointer to the user slot for the run's current
// workflow stage, so pickup/ownership checks can be written generically
// rather than switching on the stage in every caller.
func (r *PipelineRun) StageSlot() *uuid.UUID {
	switch r.WorkflowOperation {
	case WorkflowCollection:
		return r.CollectionUser
	case WorkflowLoad:
		return r.LoadUser
	case WorkflowCheck:
		return r.CheckUser
	case WorkflowQA:
		return r.QAUser
	default:
		return nil
	}
}

// SetStageSlot assigns the user slot for the run's current workflow
// stage; callers must check the slot is empty first (see pickup in
// internal/engine).
func (r *PipelineRun) SetStageSlot(id uuid.UUID) {
	switch r.WorkflowOperation {
	case WorkflowCollection:
		r.CollectionUser = &id
	case WorkflowLoad:
		r.LoadUser = &id
	case WorkflowCheck:
		r.CheckUser = &id
	case WorkflowQA:
		r.QAUser = &id
	}
}

// TaskStatus is the lifecycle state of a PipelineRunTask.
type TaskStatus string

const (
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusComplete  TaskStatus = "complete"
	TaskStatusFailed    TaskStatus = "failed"
)

// PipelineRunTask is one ordered step of a PipelineRun, either a User
// task (run synchronously inside a request handler) or a System task
// (dispatched to the worker pool). The worker keeps its lease on the
// job_queue_entries row, not here: nothing writes the Claim fields
// except ResetTask, which clears them.
type PipelineRunTask struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RunID                   uuid.UUID  `gorm:"type:uuid;index;not null" json:"run_id"`
	TaskID                  string     `gorm:"type:text;index;not null" json:"task_id"`
	OrderIndex              int        `gorm:"not null" json:"order_index"`
	ParentID                *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	TaskRunning             bool       `gorm:"not null;default:false" json:"task_running"`
	TaskComplete            bool       `gorm:"not null;default:false" json:"task_complete"`
	TaskStart               *time.Time `json:"task_start,omitempty"`
	TaskCompleted           *time.Time `json:"task_completed,omitempty"`
	TaskStatus              TaskStatus `gorm:"type:text;index;not null" json:"task_status"`
	TaskMessage             string     `json:"task_message,omitempty"`
	ClaimedBy               string     `gorm:"type:text;index;not null;default:''" json:"claimed_by"`
	ClaimExpiresAt          *time.Time `gorm:"index" json:"claim_expires_at,omitempty"`
	ClaimAttempt            int        `gorm:"not null;default:0" json:"claim_attempt"`
	CreatedAt               time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"not null" json:"updated_at"`
}

// IsRunnable reports whether the task may transition Waiting -> Scheduled.
func (t *PipelineRunTask) IsRunnable() bool {
	return t.TaskStatus == TaskStatusWaiting
}

// IsInFlight reports whether the task occupies the single
// Scheduled/Running slot a run may have at any time.
func (t *PipelineRunTask) IsInFlight() bool {
	return t.TaskStatus == TaskStatusScheduled || t.TaskStatus == TaskStatusRunning
}

// allowedTransitions encodes the state machine of spec.md §4.1:
// Waiting -> Scheduled -> Running -> {Complete, Failed}; Failed/Complete
// -> Waiting via reset only. No other arc is permitted, in particular a
// task that is Scheduled or Running may not be reset to Waiting out
// from under whatever is about to run (or is running) it.
var allowedTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusWaiting:   {TaskStatusScheduled: true},
	TaskStatusScheduled: {TaskStatusRunning: true},
	TaskStatusRunning:   {TaskStatusComplete: true, TaskStatusFailed: true},
	TaskStatusComplete:  {TaskStatusWaiting: true},
	TaskStatusFailed:    {TaskStatusWaiting: true},
}

// CanTransition reports whether from -> to is an arc of the state
// machine in spec.md §4.1.
func CanTransition(from, to TaskStatus) bool {
	return allowedTransitions[from][to]
}
