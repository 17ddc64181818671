package report

import (
	"io"
	"math"
	"strconv"

	"github.com/xuri/excelize/v2"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// maxSheetName is the longest sheet name a workbook accepts.
const maxSheetName = 31

const defaultSheet = "Sheet1"

func sheetName(t *table.Table, i int) string {
	name := t.Name
	if name == "" {
		name = "table" + strconv.Itoa(i+1)
	}
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// WriteXLSX writes one sheet per table. Numeric cells are stored as numbers.
func WriteXLSX(w io.Writer, tables ...*table.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	keepDefault := false
	for i, t := range tables {
		name := sheetName(t, i)
		if name == defaultSheet {
			keepDefault = true
		} else if _, err := f.NewSheet(name); err != nil {
			return bferrors.Wrap(err, bferrors.CodeWriteFailed, "create sheet").With("sheet", name)
		}

		header := make([]interface{}, len(t.Columns))
		for c, col := range t.Columns {
			header[c] = col
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write sheet header").With("sheet", name)
		}
		for r, row := range t.Rows {
			cells := make([]interface{}, len(row))
			for c, cell := range row {
				if v, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
					cells[c] = v
				} else {
					cells[c] = cell
				}
			}
			axis, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return bferrors.Wrap(err, bferrors.CodeWriteFailed, "cell address")
			}
			if err := f.SetSheetRow(name, axis, &cells); err != nil {
				return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write sheet row").With("sheet", name)
			}
		}
	}
	if !keepDefault && len(tables) > 0 {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return bferrors.Wrap(err, bferrors.CodeWriteFailed, "delete default sheet")
		}
	}

	if err := f.Write(w); err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write workbook")
	}
	return nil
}
