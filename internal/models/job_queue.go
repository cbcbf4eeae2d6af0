package models

import (
	"time"

	"github.com/google/uuid"
)

// JobQueueEntry is a durable FIFO envelope for a scheduled System-task
// invocation (spec.md §4.3). One job type exists today: a pipeline-run
// task execution, carrying the fields a worker needs to claim, run,
// and chain into the next task.
type JobQueueEntry struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobType         string     `gorm:"type:text;index;not null" json:"job_type"`
	RunID           uuid.UUID  `gorm:"type:uuid;index;not null" json:"run_id"`
	PRTaskID        uuid.UUID  `gorm:"type:uuid;index;not null" json:"pr_task_id"`
	TaskClass       string     `gorm:"type:text;not null" json:"task_class"`
	RunNext         bool       `gorm:"not null;default:false" json:"run_next"`
	ScheduledAt     time.Time  `gorm:"not null" json:"scheduled_at"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	LeaseHolder     string     `gorm:"type:text;index;not null;default:''" json:"lease_holder"`
	LeaseExpiresAt  *time.Time `gorm:"index" json:"lease_expires_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (JobQueueEntry) TableName() string { return "job_queue_entries" }

// JobTypeSystemTask is the only job type in this system (spec.md
// §4.3): a scheduled pipeline-run task execution.
const JobTypeSystemTask = "system_task"
