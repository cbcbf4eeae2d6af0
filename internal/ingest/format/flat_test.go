package format_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesium-cloud/pipeline/internal/ingest/format"
	"github.com/caesium-cloud/pipeline/internal/models"
)

func writeTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestFlatReaderReadsHeaderAndRecords(t *testing.T) {
	path := writeTempFile(t, "in.csv", "ID,Name,ID\n1,A,2\n22,BB,3\n")

	r, err := format.Open(path, models.LoaderTypeFlat, format.Descriptor{Delimiter: ','})
	require.NoError(t, err)
	defer r.Close()

	header, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "Name", "ID"}, header)

	row1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "A", "2"}, row1)

	row2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"22", "BB", "3"}, row2)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFlatReaderHonorsCustomDelimiter(t *testing.T) {
	path := writeTempFile(t, "in.txt", "A|B\n1|2\n")

	r, err := format.Open(path, models.LoaderTypeFlat, format.Descriptor{Delimiter: '|'})
	require.NoError(t, err)
	defer r.Close()

	row, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, row)
}
