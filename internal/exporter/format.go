package exporter

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"licsrv/internal/license"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Header is the column order shared by every format.
var Header = []string{"license_key", "state", "active", "hwid", "created_at", "note"}

// ParseFormat accepts a case-insensitive format name. An empty name means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", license.ErrInvalidArgument, s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName returns a download name stamped with at.
func (f Format) FileName(at time.Time) string {
	return fmt.Sprintf("license_keys_%s.%s", at.UTC().Format("20060102_150405"), f)
}

// Write streams records to w in format f and returns the number of rows written.
func Write(w io.Writer, f Format, records iter.Seq2[license.KeyRecord, error]) (int, error) {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records, CSVOptions{BOMPrefix: true})
	case FormatXLSX:
		return WriteXLSX(w, records)
	default:
		return 0, fmt.Errorf("%w: unsupported export format %q", license.ErrInvalidArgument, f)
	}
}

func row(rec license.KeyRecord) []string {
	return []string{
		rec.Key,
		string(rec.State()),
		formatBool(rec.Active),
		rec.HWID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.Note,
	}
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
