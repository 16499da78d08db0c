package logging

import "log/slog"

// Common field names.
const (
	FieldRunID    = "run_id"
	FieldFile     = "file"
	FieldLine     = "line"
	FieldCategory = "category"
	FieldIndex    = "index"
	FieldCount    = "count"
	FieldDuration = "duration_ms"
	FieldError    = "error"
)

// RunID returns a slog attribute for the run identifier.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// File returns a slog attribute for an input path.
func File(path string) slog.Attr {
	return slog.String(FieldFile, path)
}

// Line returns a slog attribute for an input line number.
func Line(n int) slog.Attr {
	return slog.Int(FieldLine, n)
}

// Category returns a slog attribute for an artefact category.
func Category(c string) slog.Attr {
	return slog.String(FieldCategory, c)
}

// Index returns a slog attribute for a target index.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

// Count returns a slog attribute for a record count.
func Count(n uint64) slog.Attr {
	return slog.Uint64(FieldCount, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
