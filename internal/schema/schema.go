// Package schema bootstraps the database schema from an explicit,
// dependency-ordered registry of descriptors, replacing the
// reflection-over-packages discovery spec.md §9 flags for
// re-architecture ("Reflection-driven schema bootstrap").
package schema

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/models"
)

// Descriptor names one schema object and the names of the descriptors
// it depends on, so Bootstrap can create objects in an order that
// satisfies foreign keys.
type Descriptor struct {
	Name       string
	Model      interface{}
	DependsOn  []string
}

// Registry is the explicit, hand-written list of schema objects this
// engine owns. Order within the slice does not matter; Bootstrap
// topologically sorts it by DependsOn before creating anything.
var Registry = []Descriptor{
	{Name: "roles", Model: &models.Role{}},
	{Name: "users", Model: &models.User{}},
	{Name: "user_roles", Model: &models.UserRole{}, DependsOn: []string{"users", "roles"}},
	{Name: "workflow_operations", Model: &models.WorkflowOperation{}},
	{Name: "actions", Model: &models.Action{}},
	{Name: "pipeline_runs", Model: &models.PipelineRun{}},
	{Name: "pipeline_run_tasks", Model: &models.PipelineRunTask{}, DependsOn: []string{"pipeline_runs"}},
	{Name: "source_tables", Model: &models.SourceTable{}, DependsOn: []string{"pipeline_runs"}},
	{Name: "source_table_columns", Model: &models.SourceTableColumn{}, DependsOn: []string{"source_tables"}},
	{Name: "job_queue_entries", Model: &models.JobQueueEntry{}, DependsOn: []string{"pipeline_run_tasks"}},
}

// Bootstrap migrates every descriptor in dependency order and seeds
// the static Role and WorkflowOperation/Action rows. It is safe to
// call repeatedly: AutoMigrate and seeding are both idempotent.
func Bootstrap(gdb *gorm.DB) error {
	ordered, err := topologicalSort(Registry)
	if err != nil {
		return err
	}

	for _, d := range ordered {
		if err := gdb.AutoMigrate(d.Model); err != nil {
			return fmt.Errorf("migrate %s: %w", d.Name, err)
		}
	}

	if err := seedRoles(gdb); err != nil {
		return err
	}
	if err := seedWorkflowOperations(gdb); err != nil {
		return err
	}
	return seedActions(gdb)
}

func seedRoles(gdb *gorm.DB) error {
	for _, role := range models.DefaultRoles {
		if err := gdb.Where("name = ?", role.Name).FirstOrCreate(role).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func seedWorkflowOperations(gdb *gorm.DB) error {
	for _, op := range models.DefaultWorkflowOperations {
		if err := gdb.Where("code = ?", op.Code).FirstOrCreate(op).Error; err != nil {
			return fmt.Errorf("seed workflow operation %s: %w", op.Code, err)
		}
	}
	return nil
}

func seedActions(gdb *gorm.DB) error {
	var count int64
	if err := gdb.Model(&models.Action{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return gdb.Create(&models.DefaultActions).Error
}

// topologicalSort orders descriptors so that every dependency appears
// before its dependent, per spec.md §9's dependency-ordered bootstrap
// requirement.
func topologicalSort(descriptors []Descriptor) ([]Descriptor, error) {
	byName := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	var (
		ordered []Descriptor
		visited = make(map[string]int) // 0=unvisited,1=visiting,2=done
	)

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("schema dependency cycle detected at %q", name)
		}

		visited[name] = 1
		d, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown schema dependency %q", name)
		}

		for _, dep := range d.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		visited[name] = 2
		ordered = append(ordered, d)
		return nil
	}

	for _, d := range descriptors {
		if err := visit(d.Name); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}
