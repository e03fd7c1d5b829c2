package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"

	"licsrv/internal/license"
)

// CSVOptions configures CSV writing behavior
type CSVOptions struct {
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records iter.Seq2[license.KeyRecord, error], opts CSVOptions) (int, error) {
	if opts.BOMPrefix {
		if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return 0, fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return 0, fmt.Errorf("failed to write headers: %w", err)
	}

	n := 0
	for rec, err := range records {
		if err != nil {
			writer.Flush()
			return n, fmt.Errorf("failed to list keys: %w", err)
		}
		if err := writer.Write(row(rec)); err != nil {
			return n, fmt.Errorf("failed to write record %d: %w", n, err)
		}
		n++
	}

	writer.Flush()
	return n, writer.Error()
}
