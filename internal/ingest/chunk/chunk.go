// Package chunk implements the chunked-merge analyze semantics of
// spec.md §4.2: analysis proceeds in chunks of 10,000 records and
// per-chunk column statistics are merged associatively, so a file of
// any size is analyzed with bounded memory.
package chunk

// Size is the number of records analyzed per chunk.
const Size = 10000

// ColumnStat is the per-column statistic computed during analyze.
type ColumnStat struct {
	Name      string
	Type      string
	MinLength int
	MaxLength int
	Index     int
}

// AnalyzeResult is the output of analyzing one table (or sub-table).
type AnalyzeResult struct {
	TableName   string
	RecordCount int64
	Columns     []ColumnStat
}

// Merge combines two AnalyzeResults for the same table: record counts
// sum, and each column's min/max length take the element-wise min/max
// across the two. Merge is associative and commutative in the length
// fields, so chunk results can be folded in any order; columns are
// matched by Index, since a chunk can't reorder its own header.
func Merge(a, b AnalyzeResult) AnalyzeResult {
	if len(a.Columns) == 0 {
		return b
	}
	if len(b.Columns) == 0 {
		return a
	}

	merged := AnalyzeResult{
		TableName:   a.TableName,
		RecordCount: a.RecordCount + b.RecordCount,
		Columns:     make([]ColumnStat, len(a.Columns)),
	}

	for i := range a.Columns {
		ac := a.Columns[i]
		bc := b.Columns[i]
		merged.Columns[i] = ColumnStat{
			Name:      ac.Name,
			Type:      ac.Type,
			Index:     ac.Index,
			MinLength: minInt(ac.MinLength, bc.MinLength),
			MaxLength: maxInt(ac.MaxLength, bc.MaxLength),
		}
	}

	return merged
}

// MergeAll folds Merge across a sequence of chunk results in order.
func MergeAll(results []AnalyzeResult) AnalyzeResult {
	var acc AnalyzeResult
	for _, r := range results {
		acc = Merge(acc, r)
	}
	return acc
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
