package sheet

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Table is one worksheet of an exported workbook.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// WriteXLSX writes the tables as worksheets of one workbook, in order. The
// header row is bold.
func WriteXLSX(w io.Writer, tables ...Table) error {
	if len(tables) == 0 {
		return errors.New("no tables to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), t.Name); err != nil {
				return fmt.Errorf("rename sheet %q: %w", t.Name, err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("create sheet %q: %w", t.Name, err)
		}

		headers := t.Headers
		if err := f.SetSheetRow(t.Name, "A1", &headers); err != nil {
			return err
		}
		if err := f.SetRowStyle(t.Name, 1, 1, bold); err != nil {
			return err
		}
		for r, row := range t.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			values := row
			if err := f.SetSheetRow(t.Name, cell, &values); err != nil {
				return fmt.Errorf("sheet %q row %d: %w", t.Name, r+2, err)
			}
		}
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}
