// Package sourcetable implements the four form-driven CRUD operations
// of spec.md §4.5, reusing internal/engine's stage-slot authorization
// rule so a source table can only be mutated by the run's current
// stage owner (or an admin).
package sourcetable

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/engine"
	"github.com/caesium-cloud/pipeline/internal/models"
)

// Service implements the four source-table operations over a *gorm.DB.
type Service struct {
	db *gorm.DB
}

// New builds a Service.
func New(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

// List returns every source table belonging to a run.
func (s *Service) List(ctx context.Context, principal auth.Principal, runID uuid.UUID) ([]*models.SourceTable, error) {
	if _, err := s.loadRun(ctx, s.db, runID, principal); err != nil {
		return nil, err
	}

	var tables []*models.SourceTable
	if err := s.db.WithContext(ctx).Preload("Columns").Where("run_id = ?", runID).Find(&tables).Error; err != nil {
		return nil, apierr.Storage(err)
	}
	return tables, nil
}

// Create inserts a new source table from form values. Returns the new
// row's st_oid and rows-affected count per spec.md §4.5 step 4.
func (s *Service) Create(ctx context.Context, principal auth.Principal, form map[string]string) (uint64, int64, error) {
	runID, err := parseUUID(form, "run_id")
	if err != nil {
		return 0, 0, err
	}

	var stOID uint64
	var affected int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := s.loadRun(ctx, tx, runID, principal)
		if err != nil {
			return err
		}

		st, err := fieldsToSourceTable(form, run.ID)
		if err != nil {
			return err
		}

		result := tx.Create(st)
		if result.Error != nil {
			return apierr.Storage(result.Error)
		}
		stOID = st.ID
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return stOID, affected, nil
}

// Update applies form values to an existing source table.
func (s *Service) Update(ctx context.Context, principal auth.Principal, form map[string]string) (uint64, int64, error) {
	runID, err := parseUUID(form, "run_id")
	if err != nil {
		return 0, 0, err
	}
	stOID, err := parseUint(form, "st_oid")
	if err != nil {
		return 0, 0, err
	}

	var affected int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadRun(ctx, tx, runID, principal); err != nil {
			return err
		}

		var existing models.SourceTable
		if err := tx.First(&existing, "st_oid = ? AND run_id = ?", stOID, runID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apierr.NotFound("source table not found")
			}
			return apierr.Storage(err)
		}

		st, err := fieldsToSourceTable(form, runID)
		if err != nil {
			return err
		}
		st.ID = stOID

		// A struct passed to Updates only writes its non-zero fields, so
		// unchecking a checkbox or blanking a text field would silently
		// leave the old value in place. Update is a full-record
		// replacement like Create, so every field is written explicitly.
		result := tx.Model(&existing).Updates(map[string]interface{}{
			"table_name":   st.TableName,
			"file_id":      st.FileID,
			"file_name":    st.FileName,
			"loader_type":  st.LoaderType,
			"sub_table":    st.SubTable,
			"delimiter":    st.Delimiter,
			"qualified":    st.Qualified,
			"encoding":     st.Encoding,
			"collect_type": st.CollectType,
			"analyze":      st.Analyze,
			"load":         st.Load,
			"url":          st.URL,
			"comments":     st.Comments,
		})
		if result.Error != nil {
			return apierr.Storage(result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return stOID, affected, nil
}

// Delete removes a source table.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, form map[string]string) (uint64, int64, error) {
	runID, err := parseUUID(form, "run_id")
	if err != nil {
		return 0, 0, err
	}
	stOID, err := parseUint(form, "st_oid")
	if err != nil {
		return 0, 0, err
	}

	var affected int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadRun(ctx, tx, runID, principal); err != nil {
			return err
		}

		result := tx.Where("st_oid = ? AND run_id = ?", stOID, runID).Delete(&models.SourceTable{})
		if result.Error != nil {
			return apierr.Storage(result.Error)
		}
		if result.RowsAffected == 0 {
			return apierr.NotFound("source table not found")
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return stOID, affected, nil
}

func (s *Service) loadRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID, principal auth.Principal) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := tx.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.NotFound("run not found")
		}
		return nil, apierr.Storage(err)
	}

	if err := engine.CheckUserRun(&run, principal); err != nil {
		return nil, err
	}
	return &run, nil
}

// fieldsToSourceTable translates a form map into a SourceTable per the
// field rules in spec.md §4.5's table.
func fieldsToSourceTable(form map[string]string, runID uuid.UUID) (*models.SourceTable, error) {
	tableName := strings.TrimSpace(form["table_name"])
	fileID := strings.TrimSpace(form["file_id"])
	fileName := strings.TrimSpace(form["file_name"])
	if tableName == "" || fileID == "" {
		return nil, apierr.BadRequest("table_name and file_id are required")
	}
	if fileName == "" {
		return nil, apierr.BadRequest("file_name is required")
	}

	loaderType, ok := models.LoaderTypeForFilename(fileName)
	if !ok {
		return nil, apierr.BadRequest(fmt.Sprintf("file_name %q has an unrecognized extension", fileName))
	}

	st := &models.SourceTable{
		RunID:      runID,
		TableName:  tableName,
		FileID:     fileID,
		FileName:   fileName,
		LoaderType: loaderType,
		Encoding:   form["encoding"],
		Qualified:  form["qualified"] == "on",
		Analyze:    form["analyze"] == "on",
		Load:       form["load"] == "on",
	}

	st.SubTable = blankToNil(form["sub_table"])
	if loaderType.RequiresSubTable() && st.SubTable == nil {
		return nil, apierr.BadRequest(fmt.Sprintf("file_name %q requires sub_table", fileName))
	}

	st.Delimiter = blankToNil(form["delimiter"])
	st.URL = blankToNil(form["url"])
	st.Comments = blankToNil(form["comments"])

	if raw, ok := form["collect_type"]; ok && strings.TrimSpace(raw) != "" {
		ct, ok := models.ParseCollectType(raw)
		if !ok {
			return nil, apierr.BadRequest(fmt.Sprintf("collect_type %q is not a recognized value", raw))
		}
		st.CollectType = ct
	}

	return st, nil
}

func blankToNil(raw string) *string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return &raw
}

func parseUUID(form map[string]string, key string) (uuid.UUID, error) {
	raw, ok := form[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, apierr.BadRequest(fmt.Sprintf("%s is required", key))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.BadRequest(fmt.Sprintf("%s is not a valid identifier", key))
	}
	return id, nil
}

func parseUint(form map[string]string, key string) (uint64, error) {
	raw, ok := form[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, apierr.BadRequest(fmt.Sprintf("%s is required", key))
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apierr.BadRequest(fmt.Sprintf("%s is not a valid identifier", key))
	}
	return v, nil
}
