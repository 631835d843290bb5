package recording

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

func loadXLSX(path string, opts Options) (*Recording, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Columns.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoSamples
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("error reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoSamples
	}
	return table{header: rows[0], rows: rows[1:]}.toRecording(opts)
}
