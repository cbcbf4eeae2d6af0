// Package ingest implements the Analyze and Load verbs of spec.md
// §4.2 over the format readers in internal/ingest/format, feeding
// internal/ingest/copysink's bulk-copy sink. Analyze reads only the
// file at path; Load also writes to the database through the
// connection it is given. The System-task wrappers
// registered in internal/task's catalog translate SourceTable rows
// into descriptors and persist the results.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/ingest/chunk"
	"github.com/caesium-cloud/pipeline/internal/ingest/copysink"
	"github.com/caesium-cloud/pipeline/internal/ingest/format"
	"github.com/caesium-cloud/pipeline/internal/ingest/normalize"
	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/task"
)

// PathResolver maps a SourceTable row to a readable local file path.
// File transport (upload, staging, remote fetch) is out of core scope
// per spec.md §1; the core only requires a path.
type PathResolver func(st *models.SourceTable) (string, error)

// DefaultPathResolver treats FileName as an already-staged local path.
// Both System tasks below resolve paths through it; nothing in this
// repository replaces it.
var DefaultPathResolver PathResolver = func(st *models.SourceTable) (string, error) {
	return st.FileName, nil
}

// AnalyzeDescriptor is one table (or sub-table) to analyze.
type AnalyzeDescriptor struct {
	TableName string
	SubTable  string
	Delimiter byte
	Qualified bool
}

// Analyze opens path once per descriptor and streams records in
// chunks of chunk.Size, merging per-chunk column statistics.
func Analyze(path string, loaderType models.LoaderType, descriptors []AnalyzeDescriptor) ([]chunk.AnalyzeResult, error) {
	if len(descriptors) == 0 {
		return nil, apierr.BadRequest("analyze requires at least one descriptor")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apierr.Ingestion("file not found", err)
	}

	results := make([]chunk.AnalyzeResult, 0, len(descriptors))
	for _, d := range descriptors {
		r, err := format.Open(path, loaderType, format.Descriptor{SubTable: d.SubTable, Delimiter: d.Delimiter, Qualified: d.Qualified})
		if err != nil {
			return nil, apierr.Ingestion(fmt.Sprintf("open %s for analyze", d.TableName), err)
		}

		result, err := analyzeOne(r, d.TableName)
		r.Close()
		if err != nil {
			return nil, apierr.Ingestion(fmt.Sprintf("analyze %s", d.TableName), err)
		}
		results = append(results, result)
	}

	return results, nil
}

func analyzeOne(r format.Reader, tableName string) (chunk.AnalyzeResult, error) {
	header, err := r.Header()
	if err != nil {
		return chunk.AnalyzeResult{}, err
	}
	names := normalize.Deduplicate(header)

	var overall chunk.AnalyzeResult
	current := freshChunk(tableName, names)

	for {
		record, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return chunk.AnalyzeResult{}, err
		}

		accumulate(&current, record)

		if current.RecordCount == chunk.Size {
			overall = chunk.Merge(overall, current)
			current = freshChunk(tableName, names)
		}
	}

	if current.RecordCount > 0 {
		overall = chunk.Merge(overall, current)
	}
	if overall.Columns == nil {
		overall = freshChunk(tableName, names)
	}

	return overall, nil
}

func freshChunk(tableName string, names []string) chunk.AnalyzeResult {
	cols := make([]chunk.ColumnStat, len(names))
	for i, n := range names {
		cols[i] = chunk.ColumnStat{Name: n, Type: "text", Index: i, MinLength: -1, MaxLength: -1}
	}
	return chunk.AnalyzeResult{TableName: tableName, Columns: cols}
}

func accumulate(result *chunk.AnalyzeResult, record []string) {
	for i, v := range record {
		if i >= len(result.Columns) {
			continue
		}
		l := len(v)
		c := &result.Columns[i]
		if c.MinLength == -1 || l < c.MinLength {
			c.MinLength = l
		}
		if l > c.MaxLength {
			c.MaxLength = l
		}
	}
	result.RecordCount++
}

// LoadDescriptor is one table's load instruction: the DDL to run
// before copying and the copysink parameters for the copy itself.
type LoadDescriptor struct {
	TableName       string
	SubTable        string
	Delimiter       byte
	Qualified       bool
	Columns         []string
	CreateStatement string
}

// Load executes each descriptor's create statement and then streams
// path's records into the resulting table via copysink, all inside a
// single transaction over conn.
func Load(ctx context.Context, conn *pgx.Conn, path string, loaderType models.LoaderType, descriptors []LoadDescriptor) (map[string]int64, error) {
	if len(descriptors) == 0 {
		return nil, apierr.BadRequest("load requires at least one descriptor")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apierr.Ingestion("file not found", err)
	}

	counts := make(map[string]int64, len(descriptors))

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, apierr.Storage(err)
	}
	defer tx.Rollback(ctx)

	for _, d := range descriptors {
		if _, err := tx.Exec(ctx, d.CreateStatement); err != nil {
			return nil, apierr.Ingestion(fmt.Sprintf("create statement for %s", d.TableName), err)
		}

		count, err := loadOne(ctx, conn, d, path, loaderType)
		if err != nil {
			return nil, err
		}
		counts[d.TableName] = count

		metrics.IngestRecordsTotal.WithLabelValues(string(loaderType), "success").Add(float64(count))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Storage(err)
	}

	return counts, nil
}

func loadOne(ctx context.Context, conn *pgx.Conn, d LoadDescriptor, path string, loaderType models.LoaderType) (int64, error) {
	sink := copysink.New(conn)
	opts := copysink.Options{
		Table:     d.TableName,
		Columns:   d.Columns,
		Delimiter: d.Delimiter,
		Qualified: d.Qualified,
	}

	if loaderType == models.LoaderTypeFlat {
		opts.Header = true
		f, err := os.Open(path)
		if err != nil {
			return 0, apierr.Ingestion("reopen flat file for copy", err)
		}
		defer f.Close()

		count, err := sink.Copy(ctx, opts, f)
		if err != nil {
			return 0, apierr.Ingestion(fmt.Sprintf("copy %s", d.TableName), err)
		}
		return count, nil
	}

	opts.Header = false
	r, err := format.Open(path, loaderType, format.Descriptor{SubTable: d.SubTable, Delimiter: d.Delimiter, Qualified: d.Qualified})
	if err != nil {
		return 0, apierr.Ingestion(fmt.Sprintf("open %s for load", d.TableName), err)
	}
	defer r.Close()

	if _, err := r.Header(); err != nil {
		return 0, apierr.Ingestion("read header", err)
	}

	body, count, err := reencodeAsCSV(r)
	if err != nil {
		return 0, apierr.Ingestion(fmt.Sprintf("re-encode %s", d.TableName), err)
	}

	copied, err := sink.Copy(ctx, opts, body)
	if err != nil {
		return 0, apierr.Ingestion(fmt.Sprintf("copy %s", d.TableName), err)
	}
	if copied != count {
		return copied, apierr.Ingestion(fmt.Sprintf("copy %s: expected %d rows, copied %d", d.TableName, count, copied), nil)
	}
	return copied, nil
}

// reencodeAsCSV decodes every remaining record from r and re-encodes
// it as a CSV row per spec.md §4.2: fields wrapped in double quotes,
// embedded quotes doubled, trailing newline, no header line.
func reencodeAsCSV(r format.Reader) (io.Reader, int64, error) {
	var buf bytes.Buffer

	var count int64
	for {
		record, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}

		for i, v := range record {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(strings.ReplaceAll(v, `"`, `""`))
			buf.WriteByte('"')
		}
		buf.WriteByte('\n')
		count++
	}

	return &buf, count, nil
}

func init() {
	task.RegisterSystem("ingest.analyze", analyzeSystemTask)
	task.RegisterSystem("ingest.load", loadSystemTask)
}

func analyzeSystemTask(ctx context.Context, gdb *gorm.DB, prTask *models.PipelineRunTask) error {
	var sourceTables []models.SourceTable
	if err := gdb.Preload("Columns").Where("run_id = ? AND analyze = ?", prTask.RunID, true).Find(&sourceTables).Error; err != nil {
		return apierr.Storage(err)
	}

	for _, st := range sourceTables {
		path, err := DefaultPathResolver(&st)
		if err != nil {
			return apierr.Ingestion("resolve source file path", err)
		}

		desc := AnalyzeDescriptor{TableName: st.TableName}
		if st.SubTable != nil {
			desc.SubTable = *st.SubTable
		}
		if st.Delimiter != nil && len(*st.Delimiter) > 0 {
			desc.Delimiter = (*st.Delimiter)[0]
		}
		desc.Qualified = st.Qualified

		results, err := Analyze(path, st.LoaderType, []AnalyzeDescriptor{desc})
		if err != nil {
			return err
		}

		if err := persistAnalyzeResult(gdb, st.ID, results[0]); err != nil {
			return err
		}
	}

	return nil
}

func persistAnalyzeResult(gdb *gorm.DB, sourceTableID uint64, result chunk.AnalyzeResult) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_table_id = ?", sourceTableID).Delete(&models.SourceTableColumn{}).Error; err != nil {
			return apierr.Storage(err)
		}

		columns := make([]*models.SourceTableColumn, len(result.Columns))
		for i, c := range result.Columns {
			columns[i] = &models.SourceTableColumn{
				SourceTableID: sourceTableID,
				Name:          c.Name,
				Type:          c.Type,
				MinLength:     c.MinLength,
				MaxLength:     c.MaxLength,
				ColumnIndex:   c.Index,
			}
		}
		if len(columns) > 0 {
			if err := tx.Create(&columns).Error; err != nil {
				return apierr.Storage(err)
			}
		}

		return tx.Model(&models.SourceTable{}).
			Where("st_oid = ?", sourceTableID).
			Update("record_count", result.RecordCount).Error
	})
}

func loadSystemTask(ctx context.Context, gdb *gorm.DB, prTask *models.PipelineRunTask) error {
	var sourceTables []models.SourceTable
	if err := gdb.Preload("Columns").Where("run_id = ? AND load = ?", prTask.RunID, true).Find(&sourceTables).Error; err != nil {
		return apierr.Storage(err)
	}

	for _, st := range sourceTables {
		if err := loadSourceTableRows(ctx, gdb, &st); err != nil {
			return err
		}
	}

	return nil
}

func loadSourceTableRows(ctx context.Context, gdb *gorm.DB, st *models.SourceTable) error {
	path, err := DefaultPathResolver(st)
	if err != nil {
		return apierr.Ingestion("resolve source file path", err)
	}

	columnNames := make([]string, len(st.Columns))
	for i, c := range st.Columns {
		columnNames[i] = c.Name
	}

	desc := LoadDescriptor{
		TableName:       st.TableName,
		Columns:         columnNames,
		CreateStatement: createStatementFor(st),
	}
	if st.SubTable != nil {
		desc.SubTable = *st.SubTable
	}
	if st.Delimiter != nil && len(*st.Delimiter) > 0 {
		desc.Delimiter = (*st.Delimiter)[0]
	}
	desc.Qualified = st.Qualified

	conn, err := gormPgxConn(gdb)
	if err != nil {
		return err
	}

	_, err = Load(ctx, conn, path, st.LoaderType, []LoadDescriptor{desc})
	return err
}

// createStatementFor synthesizes a CREATE TABLE statement from a
// source table's analyzed columns; every column is created as text
// since spec.md §4.2's analyze pass only computes length statistics,
// not a SQL type.
func createStatementFor(st *models.SourceTable) string {
	cols := make([]string, len(st.Columns))
	for i, c := range st.Columns {
		cols[i] = fmt.Sprintf("%s text", pgx.Identifier{c.Name}.Sanitize())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgx.Identifier{st.TableName}.Sanitize(), strings.Join(cols, ", "))
}

// gormPgxConn checks a connection out of the *sql.DB pool behind a GORM
// postgres session and extracts its underlying *pgx.Conn, so the load
// path can drive pgx's CopyFrom directly. The connection is separate
// from any transaction GORM has open on gdb.
func gormPgxConn(gdb *gorm.DB) (*pgx.Conn, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, apierr.Storage(err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		return nil, apierr.Storage(err)
	}
	var pgxConn *pgx.Conn
	if err := conn.Raw(func(driverConn interface{}) error {
		if c, ok := driverConn.(interface{ Conn() *pgx.Conn }); ok {
			pgxConn = c.Conn()
			return nil
		}
		return fmt.Errorf("underlying driver connection is not pgx-backed")
	}); err != nil {
		return nil, apierr.Storage(err)
	}
	return pgxConn, nil
}
