package format

import (
	"encoding/csv"
	"os"
)

type flatReader struct {
	file   *os.File
	csv    *csv.Reader
	header []string
}

func openFlat(path string, desc Descriptor) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.Comma = rune(desc.Delimiter)
	if r.Comma == 0 {
		r.Comma = ','
	}
	r.LazyQuotes = !desc.Qualified
	r.FieldsPerRecord = -1

	fr := &flatReader{file: f, csv: r}

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, err
	}
	fr.header = header

	return fr, nil
}

func (r *flatReader) Header() ([]string, error) { return r.header, nil }

func (r *flatReader) Next() ([]string, error) { return r.csv.Read() }

func (r *flatReader) Close() error { return r.file.Close() }
