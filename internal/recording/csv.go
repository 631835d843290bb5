package recording

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

func loadCSV(path string, opts Options) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readCSV(f, opts)
}

func readCSV(r io.Reader, opts Options) (*Recording, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoSamples
	}
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	// Strip a UTF-8 BOM left by spreadsheet exports.
	if len(header) > 0 && len(header[0]) >= 3 && header[0][:3] == "\xef\xbb\xbf" {
		header[0] = header[0][3:]
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}
	return table{header: header, rows: rows}.toRecording(opts)
}
