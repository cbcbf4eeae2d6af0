package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LoaderType is derived from a source table's file extension.
type LoaderType string

const (
	LoaderTypeFlat  LoaderType = "flat"
	LoaderTypeExcel LoaderType = "excel"
	LoaderTypeMDB   LoaderType = "mdb"
	LoaderTypeDBF   LoaderType = "dbf"
)

// LoaderTypeForFilename derives a LoaderType from a file name's
// extension, or reports ok=false for an unrecognized extension.
func LoaderTypeForFilename(name string) (LoaderType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return LoaderTypeFlat, true
	case ".xls", ".xlsx":
		return LoaderTypeExcel, true
	case ".mdb", ".accdb":
		return LoaderTypeMDB, true
	case ".dbf":
		return LoaderTypeDBF, true
	default:
		return "", false
	}
}

// RequiresSubTable reports whether a loader type needs a sub_table
// (sheet/table name) to disambiguate a multi-table file.
func (l LoaderType) RequiresSubTable() bool {
	return l == LoaderTypeExcel || l == LoaderTypeMDB
}

// CollectType classifies how a source table's file was produced.
type CollectType string

const (
	CollectTypeFull        CollectType = "full"
	CollectTypeIncremental CollectType = "incremental"
	CollectTypeAppend      CollectType = "append"
)

// ParseCollectType parses the collect_type form field into the enum;
// spec.md §4.5 leaves the enum's members unspecified, so full /
// incremental / append (the three ingestion modes the analyze/load
// pipeline in §4.2 can distinguish) are the decided values — see
// DESIGN.md.
func ParseCollectType(raw string) (CollectType, bool) {
	switch CollectType(strings.ToLower(strings.TrimSpace(raw))) {
	case CollectTypeFull:
		return CollectTypeFull, true
	case CollectTypeIncremental:
		return CollectTypeIncremental, true
	case CollectTypeAppend:
		return CollectTypeAppend, true
	default:
		return "", false
	}
}

// SourceTable is a user-declared mapping between a file (or sub-table
// in a file) and a destination database table.
type SourceTable struct {
	ID           uint64      `gorm:"primaryKey;autoIncrement;column:st_oid" json:"st_oid"`
	RunID        uuid.UUID   `gorm:"type:uuid;index;not null;uniqueIndex:idx_source_tables_run_file;uniqueIndex:idx_source_tables_run_table" json:"run_id"`
	TableName    string      `gorm:"type:text;not null;uniqueIndex:idx_source_tables_run_table" json:"table_name"`
	FileID       string      `gorm:"type:text;not null;uniqueIndex:idx_source_tables_run_file" json:"file_id"`
	FileName     string      `gorm:"type:text;not null" json:"file_name"`
	LoaderType   LoaderType  `gorm:"type:text;not null" json:"loader_type"`
	SubTable     *string     `json:"sub_table,omitempty"`
	Delimiter    *string     `gorm:"type:char(1)" json:"delimiter,omitempty"`
	Qualified    bool        `gorm:"not null;default:false" json:"qualified"`
	Encoding     string      `json:"encoding,omitempty"`
	CollectType  CollectType `gorm:"type:text" json:"collect_type,omitempty"`
	Analyze      bool        `gorm:"not null;default:false" json:"analyze"`
	Load         bool        `gorm:"not null;default:false" json:"load"`
	RecordCount  int64       `gorm:"not null;default:0" json:"record_count"`
	URL          *string     `json:"url,omitempty"`
	Comments     *string     `json:"comments,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
	Columns      []*SourceTableColumn `gorm:"foreignKey:SourceTableID;constraint:OnDelete:CASCADE" json:"columns,omitempty"`
}

// TableName overrides GORM's pluralization so the (run_id, file_id) and
// (run_id, table_name) unique indexes declared on the fields above read
// naturally against the "st_oid" primary key column named in spec.md §3.
func (SourceTable) TableName() string { return "source_tables" }

// SourceTableColumn holds a per-column statistic populated by the
// analyze task and consumed by the load task to synthesize CREATE
// TABLE DDL.
type SourceTableColumn struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceTableID uint64 `gorm:"index;not null" json:"st_oid"`
	Name          string `gorm:"type:text;index;not null" json:"name"`
	Type          string `json:"type"`
	MaxLength     int    `json:"max_length"`
	MinLength     int    `json:"min_length"`
	Label         string `json:"label,omitempty"`
	ColumnIndex   int    `json:"column_index"`
}

func (SourceTableColumn) TableName() string { return "source_table_columns" }
