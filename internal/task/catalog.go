// Package task is the compile-time catalog mapping a task_id to either
// a User task (run synchronously inside a request handler) or a System
// task (run by the worker pool). Per spec.md §9 "Polymorphic tasks",
// the catalog is a tagged variant built from closures rather than a
// class hierarchy, grounded on the teacher's job.New/atomRunner
// factory shape in the source repo's internal/job/job.go.
package task

import (
	"context"

	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
)

// Kind tags a catalog Entry as User or System.
type Kind int

const (
	KindUser Kind = iota
	KindSystem
)

// UserFunc runs a User task synchronously inside a request handler. It
// receives the transaction the engine opened to validate/transition
// the task, the run and task records, and the caller's principal.
type UserFunc func(ctx context.Context, tx *gorm.DB, run *models.PipelineRun, prTask *models.PipelineRunTask, principal auth.Principal) (string, error)

// SystemFunc runs a System task's body. It receives the worker's
// database handle and the claimed task row. The worker does not wrap
// the call in a transaction; a System task that needs one opens it
// itself.
type SystemFunc func(ctx context.Context, gdb *gorm.DB, prTask *models.PipelineRunTask) error

// Entry is one catalog record: exactly one of User/System is set,
// selected by Kind.
type Entry struct {
	TaskID string
	Kind   Kind
	User   UserFunc
	System SystemFunc
}

// Catalog maps task_id to its catalog Entry.
type Catalog map[string]Entry

// catalog is the package-level registry populated at init time by the
// task implementations in this package's siblings: internal/ingest
// registers its two System tasks via RegisterSystem. No package in
// this repository calls RegisterUser.
var catalog = Catalog{}

// RegisterUser adds a User task to the catalog.
func RegisterUser(taskID string, fn UserFunc) {
	catalog[taskID] = Entry{TaskID: taskID, Kind: KindUser, User: fn}
}

// RegisterSystem adds a System task to the catalog.
func RegisterSystem(taskID string, fn SystemFunc) {
	catalog[taskID] = Entry{TaskID: taskID, Kind: KindSystem, System: fn}
}

// Lookup returns the catalog entry for a task_id, or ok=false if none
// is registered.
func Lookup(taskID string) (Entry, bool) {
	e, ok := catalog[taskID]
	return e, ok
}

// Default returns the package-level catalog. Exposed as a function
// (rather than the bare map) so callers can't accidentally rebind it.
func Default() Catalog {
	return catalog
}
