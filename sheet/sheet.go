/*
Package sheet reads cooperative spreadsheet exports into header + rows.

PURPOSE:
  The reconciler does not care whether the treasurer uploaded an .xlsx, a
  legacy .xls or a .csv. This package reads the first worksheet of any of
  them into a Sheet: trimmed headers plus rows of raw cell values. It also
  owns column resolution (resolver.go) and the logical field table
  (fields.go).

CELL VALUES:
  .xlsx: typed. Numeric and date cells arrive as float64 (dates as
         spreadsheet serials), text cells as string.
  .xls:  text. Every cell is the string the workbook displays.
  .csv:  text. Delimiter is ',' or ';' (detected from the header line).

  Text cells are left to the normalize package; this package never
  interprets amounts.

ROWS:
  Row.Number is the 1-based line in the source sheet (the header is line 1),
  so warnings point at the line the operator sees. Fully blank rows are
  dropped on load.

SEE ALSO:
  - resolver.go: Header lookup by logical field
  - writer.go: Workbook export (billing worklists)
*/
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/koperasi/loan-ledger/generic"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// SHEET
// =============================================================================

type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

type Row struct {
	Number int
	Cells  []any
}

// Cell returns the value at column i, or nil when the row is shorter.
func (r Row) Cell(i int) any {
	if i < 0 || i >= len(r.Cells) {
		return nil
	}
	return r.Cells[i]
}

// Resolver returns a column resolver over this sheet's headers.
func (s *Sheet) Resolver() *Resolver {
	return NewResolver(s.Headers)
}

// Preview returns the first n rows keyed by header, for the import preview.
func (s *Sheet) Preview(n int) []map[string]any {
	if n > len(s.Rows) {
		n = len(s.Rows)
	}
	out := make([]map[string]any, 0, n)
	for _, row := range s.Rows[:n] {
		m := make(map[string]any, len(s.Headers))
		for i, h := range s.Headers {
			if h == "" {
				continue
			}
			m[h] = row.Cell(i)
		}
		out = append(out, m)
	}
	return out
}

// FromValues builds a sheet from an in-memory header and rows. Row numbers
// start at 2, as if the header were line 1.
func FromValues(headers []string, rows [][]any) *Sheet {
	s := &Sheet{Headers: trimHeaders(headers)}
	for i, cells := range rows {
		if isBlankRow(cells) {
			continue
		}
		s.Rows = append(s.Rows, Row{Number: i + 2, Cells: cells})
	}
	return s
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the first worksheet of r. The format is chosen from the file
// extension, falling back to content sniffing.
func Load(r io.Reader, fileName string) (*Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}

	var s *Sheet
	switch detectFormat(fileName, data) {
	case formatXLSX:
		s, err = loadXLSX(data)
	case formatXLS:
		s, err = loadXLS(data)
	case formatCSV:
		s, err = loadCSV(data)
	default:
		return nil, fmt.Errorf("%s: %w", fileName, generic.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", fileName, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	}
	return s, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, filepath.Base(path))
}

type format int

const (
	formatUnknown format = iota
	formatXLSX
	formatXLS
	formatCSV
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

func detectFormat(fileName string, data []byte) format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return formatXLSX
	case ".xls":
		return formatXLS
	case ".csv", ".txt":
		return formatCSV
	}
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return formatXLSX
	case bytes.HasPrefix(data, oleMagic):
		return formatXLS
	}
	return formatUnknown
}

func loadXLSX(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := f.GetSheetName(0)
	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, generic.ErrNoHeader
	}

	s := &Sheet{Name: name, Headers: trimHeaders(raw[0])}
	for i, cols := range raw[1:] {
		number := i + 2
		cells := make([]any, len(cols))
		for j, v := range cols {
			cells[j] = typedCell(f, name, j+1, number, v)
		}
		if isBlankRow(cells) {
			continue
		}
		s.Rows = append(s.Rows, Row{Number: number, Cells: cells})
	}
	return s, nil
}

// typedCell keeps numeric cells numeric, the way a typed reader would.
// Shared, inline and formula strings stay text.
func typedCell(f *excelize.File, sheetName string, col, row int, raw string) any {
	if raw == "" {
		return raw
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}
	cellType, err := f.GetCellType(sheetName, ref)
	if err != nil {
		return raw
	}
	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

func loadXLS(data []byte) (*Sheet, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return nil, generic.ErrNoHeader
	}

	var records [][]any
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			records = append(records, nil)
			continue
		}
		cells := make([]any, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		for c := 0; c < row.FirstCol() && c < len(cells); c++ {
			cells[c] = ""
		}
		records = append(records, cells)
	}
	if len(records) == 0 || isBlankRow(records[0]) {
		return nil, generic.ErrNoHeader
	}

	headers := make([]string, len(records[0]))
	for i, v := range records[0] {
		headers[i] = fmt.Sprint(v)
	}
	s := FromValues(headers, records[1:])
	s.Name = ws.Name
	return s, nil
}

func loadCSV(data []byte) (*Sheet, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, generic.ErrNoHeader
	}

	rows := make([][]any, len(records)-1)
	for i, rec := range records[1:] {
		cells := make([]any, len(rec))
		for j, v := range rec {
			cells[j] = v
		}
		rows[i] = cells
	}
	return FromValues(records[0], rows), nil
}

// detectDelimiter picks ';' when the header line has more semicolons than
// commas. Indonesian exports often use ';' because ',' is the decimal mark.
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

// =============================================================================
// HELPERS
// =============================================================================

func trimHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func isBlankRow(cells []any) bool {
	for _, c := range cells {
		switch v := c.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
