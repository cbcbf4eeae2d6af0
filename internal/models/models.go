// Package models holds the GORM entities backing the pipeline engine and
// the explicit entity list that tests migrate, in place of the
// reflection-driven discovery the engine this was derived from used.
package models

// All lists every entity in dependency order (entities with foreign
// keys appear after what they reference) so AutoMigrate in
// internal/testutil can walk it safely. The production bootstrap in
// internal/schema walks its own Registry instead.
var All = []interface{}{
	&Role{},
	&User{},
	&UserRole{},
	&WorkflowOperation{},
	&Action{},
	&PipelineRun{},
	&PipelineRunTask{},
	&SourceTable{},
	&SourceTableColumn{},
	&JobQueueEntry{},
}
