package format

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Excel support is a minimal OOXML (.xlsx) reader: shared strings plus
// one worksheet's row/cell stream. Formula evaluation, number-format
// aware date rendering, and legacy .xls (BIFF) are out of scope — no
// spreadsheet library exists anywhere in the retrieval pack, so this
// is implemented directly on archive/zip and encoding/xml (see
// DESIGN.md). Numeric cells holding a whole number are rendered as an
// integer; other numeric cells keep their raw value string. Boolean
// cells render as TRUE or FALSE.
type excelReader struct {
	zf            *zip.ReadCloser
	sharedStrings []string
	decoder       *xml.Decoder
	sheetFile     io.ReadCloser
	header        []string
}

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		ID   string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type sharedStringsXML struct {
	SI []struct {
		T  string `xml:"t"`
		R  []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type workbookRelsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func openExcel(path string, desc Descriptor) (Reader, error) {
	zf, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}

	strings_, err := readSharedStrings(zf)
	if err != nil {
		zf.Close()
		return nil, err
	}

	sheetPath, err := resolveSheetPath(zf, desc.SubTable)
	if err != nil {
		zf.Close()
		return nil, err
	}

	sheetFile, err := openZipEntry(zf, sheetPath)
	if err != nil {
		zf.Close()
		return nil, err
	}

	er := &excelReader{
		zf:            zf,
		sharedStrings: strings_,
		decoder:       xml.NewDecoder(sheetFile),
		sheetFile:     sheetFile,
	}

	header, err := er.readRow()
	if err != nil {
		er.Close()
		return nil, err
	}
	er.header = header

	return er, nil
}

func readSharedStrings(zf *zip.ReadCloser) ([]string, error) {
	f, err := openZipEntry(zf, "xl/sharedStrings.xml")
	if err != nil {
		// Workbooks with no shared strings table omit the part entirely.
		return nil, nil
	}
	defer f.Close()

	var parsed sharedStringsXML
	if err := xml.NewDecoder(f).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]string, len(parsed.SI))
	for i, si := range parsed.SI {
		if si.T != "" {
			out[i] = si.T
			continue
		}
		for _, run := range si.R {
			out[i] += run.T
		}
	}
	return out, nil
}

func resolveSheetPath(zf *zip.ReadCloser, subTable string) (string, error) {
	wb, err := openZipEntry(zf, "xl/workbook.xml")
	if err != nil {
		return "", err
	}
	defer wb.Close()

	var parsed workbookXML
	if err := xml.NewDecoder(wb).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}

	rels, err := openZipEntry(zf, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return "", err
	}
	defer rels.Close()

	var relsParsed workbookRelsXML
	if err := xml.NewDecoder(rels).Decode(&relsParsed); err != nil {
		return "", err
	}
	targets := map[string]string{}
	for _, rel := range relsParsed.Relationships {
		targets[rel.ID] = rel.Target
	}

	chosen := parsed.Sheets[0]
	if subTable != "" {
		for _, s := range parsed.Sheets {
			if s.Name == subTable {
				chosen = s
				break
			}
		}
	}

	target, ok := targets[chosen.ID]
	if !ok {
		return "", fmt.Errorf("sheet %q has no resolvable worksheet part", chosen.Name)
	}
	return "xl/" + target, nil
}

func openZipEntry(zf *zip.ReadCloser, name string) (io.ReadCloser, error) {
	for _, f := range zf.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("zip entry %q not found", name)
}

func (r *excelReader) Header() ([]string, error) { return r.header, nil }

func (r *excelReader) Next() ([]string, error) { return r.readRow() }

func (r *excelReader) Close() error {
	if r.sheetFile != nil {
		r.sheetFile.Close()
	}
	return r.zf.Close()
}

type xlsxRow struct {
	Cells []xlsxCell `xml:"c"`
}

type xlsxCell struct {
	Ref string `xml:"r,attr"`
	T   string `xml:"t,attr"`
	V   string `xml:"v"`
	Is  struct {
		T string `xml:"t"`
	} `xml:"is"`
}

func (r *excelReader) readRow() ([]string, error) {
	for {
		tok, err := r.decoder.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "row" {
			continue
		}

		var row xlsxRow
		if err := r.decoder.DecodeElement(&row, &start); err != nil {
			return nil, err
		}

		return r.renderRow(row), nil
	}
}

func (r *excelReader) renderRow(row xlsxRow) []string {
	indices := make([]int, 0, len(row.Cells))
	byCol := map[int]xlsxCell{}
	maxCol := -1
	for _, c := range row.Cells {
		col := columnIndex(c.Ref)
		byCol[col] = c
		indices = append(indices, col)
		if col > maxCol {
			maxCol = col
		}
	}
	sort.Ints(indices)

	out := make([]string, maxCol+1)
	for col, c := range byCol {
		out[col] = r.renderCell(c)
	}
	return out
}

func (r *excelReader) renderCell(c xlsxCell) string {
	switch c.T {
	case "s":
		idx, err := strconv.Atoi(c.V)
		if err != nil || idx < 0 || idx >= len(r.sharedStrings) {
			return ""
		}
		return r.sharedStrings[idx]
	case "inlineStr":
		return c.Is.T
	case "b":
		if c.V == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		if f, err := strconv.ParseFloat(c.V, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return c.V
	}
}

// columnIndex converts a cell reference like "C7" to a zero-based
// column index.
func columnIndex(ref string) int {
	col := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
	}
	return col - 1
}
