package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caesium-cloud/pipeline/internal/ingest/chunk"
)

func sample(count int64, min, max int) chunk.AnalyzeResult {
	return chunk.AnalyzeResult{
		TableName:   "T",
		RecordCount: count,
		Columns: []chunk.ColumnStat{
			{Name: "ID", Index: 0, MinLength: min, MaxLength: max},
		},
	}
}

func TestMergeSumsCountsAndTakesElementwiseMinMax(t *testing.T) {
	a := sample(2, 1, 2)
	b := sample(3, 1, 3)

	merged := chunk.Merge(a, b)
	assert.Equal(t, int64(5), merged.RecordCount)
	assert.Equal(t, 1, merged.Columns[0].MinLength)
	assert.Equal(t, 3, merged.Columns[0].MaxLength)
}

func TestMergeIsAssociative(t *testing.T) {
	a := sample(2, 1, 2)
	b := sample(3, 4, 9)
	c := sample(1, 0, 1)

	left := chunk.Merge(chunk.Merge(a, b), c)
	right := chunk.Merge(a, chunk.Merge(b, c))

	assert.Equal(t, left, right)
}

func TestMergeAllFoldsInOrder(t *testing.T) {
	results := []chunk.AnalyzeResult{sample(1, 5, 5), sample(1, 2, 2), sample(1, 9, 20)}
	merged := chunk.MergeAll(results)

	assert.Equal(t, int64(3), merged.RecordCount)
	assert.Equal(t, 2, merged.Columns[0].MinLength)
	assert.Equal(t, 20, merged.Columns[0].MaxLength)
}
