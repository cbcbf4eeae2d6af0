package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// DBF support implements the xBase header and fixed-length record
// layout directly (encoding/binary): no xBase library exists in the
// retrieval pack. Memo (.dbt) fields are not resolved; memo columns
// read as their raw in-record pointer text.
type dbfField struct {
	name   string
	typ    byte
	length int
}

type dbfReader struct {
	file        *os.File
	fields      []dbfField
	recordSize  int
	numRecords  uint32
	headerSize  uint16
	recordsRead uint32
}

func openDBF(path string, desc Descriptor) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var header [32]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, err
	}

	numRecords := binary.LittleEndian.Uint32(header[4:8])
	headerSize := binary.LittleEndian.Uint16(header[8:10])
	recordSize := binary.LittleEndian.Uint16(header[10:12])

	var fields []dbfField
	fieldBuf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(f, fieldBuf[:1]); err != nil {
			f.Close()
			return nil, err
		}
		if fieldBuf[0] == 0x0D {
			break
		}
		if _, err := io.ReadFull(f, fieldBuf[1:]); err != nil {
			f.Close()
			return nil, err
		}

		name := strings.TrimRight(string(fieldBuf[0:11]), "\x00")
		fields = append(fields, dbfField{
			name:   name,
			typ:    fieldBuf[11],
			length: int(fieldBuf[16]),
		})
	}

	if _, err := f.Seek(int64(headerSize), io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	header_ := make([]string, len(fields))
	for i, fld := range fields {
		header_[i] = fld.name
	}

	return &dbfReader{
		file:       f,
		fields:     fields,
		recordSize: int(recordSize),
		numRecords: numRecords,
		headerSize: headerSize,
	}, nil
}

func (r *dbfReader) Header() ([]string, error) {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.name
	}
	return names, nil
}

func (r *dbfReader) Next() ([]string, error) {
	if r.recordsRead >= r.numRecords {
		return nil, io.EOF
	}

	buf := make([]byte, r.recordSize)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return nil, err
	}
	r.recordsRead++

	if buf[0] == '*' {
		// Soft-deleted record; skip it and return the next one.
		return r.Next()
	}

	out := make([]string, len(r.fields))
	offset := 1
	for i, fld := range r.fields {
		raw := buf[offset : offset+fld.length]
		offset += fld.length
		out[i] = strings.TrimSpace(string(bytes.TrimRight(raw, "\x00")))
	}

	return out, nil
}

func (r *dbfReader) Close() error { return r.file.Close() }

func dbfTypeName(t byte) string {
	switch t {
	case 'C':
		return "character"
	case 'N':
		return "numeric"
	case 'F':
		return "float"
	case 'L':
		return "logical"
	case 'D':
		return "date"
	case 'M':
		return "memo"
	default:
		return fmt.Sprintf("unknown(%c)", t)
	}
}
