// Package format implements the per-format readers of spec.md §4.2.
// Every reader exposes the same Reader interface so internal/ingest can
// drive analyze/load generically over Flat, Excel, MDB, and DBF files.
// No library in the retrieval pack covers spreadsheet, Jet-database, or
// xBase decoding (see DESIGN.md), so these three formats are
// implemented directly on the standard library; Flat files are the
// only format for which the pack's own stack (encoding/csv is already
// what the teacher's importer reached for) applies unchanged.
package format

import (
	"fmt"

	"github.com/caesium-cloud/pipeline/internal/models"
)

// Descriptor carries the per-table parameters needed to open a reader,
// taken from the matching SourceTable row.
type Descriptor struct {
	SubTable  string
	Delimiter byte
	Qualified bool
}

// Reader iterates one table's records. Header returns the raw column
// names as they appear in the source (before normalize.Deduplicate).
// Next returns io.EOF once exhausted.
type Reader interface {
	Header() ([]string, error)
	Next() ([]string, error)
	Close() error
}

// Open returns a Reader appropriate for loaderType, positioned at the
// start of desc's table.
func Open(path string, loaderType models.LoaderType, desc Descriptor) (Reader, error) {
	switch loaderType {
	case models.LoaderTypeFlat:
		return openFlat(path, desc)
	case models.LoaderTypeExcel:
		return openExcel(path, desc)
	case models.LoaderTypeMDB:
		return openMDB(path, desc)
	case models.LoaderTypeDBF:
		return openDBF(path, desc)
	default:
		return nil, fmt.Errorf("unsupported loader type %q", loaderType)
	}
}
