package exporter

import (
	"fmt"
	"io"
	"iter"

	"github.com/xuri/excelize/v2"

	"licsrv/internal/license"
)

// SheetName is the worksheet holding exported keys.
const SheetName = "License Keys"

// WriteXLSX writes records to a single-sheet workbook using the streaming API.
func WriteXLSX(w io.Writer, records iter.Seq2[license.KeyRecord, error]) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return 0, fmt.Errorf("failed to create stream writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 48); err != nil {
		return 0, err
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{}); err != nil {
		return 0, fmt.Errorf("failed to write headers: %w", err)
	}

	n := 0
	for rec, err := range records {
		if err != nil {
			return n, fmt.Errorf("failed to list keys: %w", err)
		}
		cells := row(rec)
		values := make([]interface{}, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		// Active is written as a real boolean so spreadsheet filters work.
		values[2] = rec.Active

		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return n, err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return n, fmt.Errorf("failed to write record %d: %w", n, err)
		}
		n++
	}

	if err := sw.Flush(); err != nil {
		return n, fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return n, fmt.Errorf("failed to write workbook: %w", err)
	}
	return n, nil
}
