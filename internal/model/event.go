package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Well-known fields of a plaso timeline record.
const (
	FieldParser         = "parser"
	FieldTimestamp      = "timestamp"
	FieldTimestampDesc  = "timestamp_desc"
	FieldDateTime       = "date_time"
	FieldDataType       = "data_type"
	FieldFilename       = "filename"
	FieldMessage        = "message"
	FieldEventRawString = "event_raw_string"
)

// ErrNotObject is returned when a line holds valid JSON that is not an object.
var ErrNotObject = errors.New("timeline record is not a JSON object")

// RawEvent carries one decoded timeline line. Fields must not be mutated once
// decoded; transformers build their documents from Document().
type RawEvent struct {
	Line   int
	Raw    string
	Fields map[string]any
}

// DecodeRawEvent parses a single JSON line. Numbers are kept as json.Number so
// 100ns tick counts above 2^53 survive without float rounding. The verbatim
// line is stored under event_raw_string.
func DecodeRawEvent(line []byte, lineNo int) (*RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("decode line %d: %w", lineNo, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode line %d: trailing data after object", lineNo)
	}

	raw := string(line)
	fields[FieldEventRawString] = raw
	return &RawEvent{Line: lineNo, Raw: raw, Fields: fields}, nil
}

// Get returns a top-level field.
func (e *RawEvent) Get(key string) any {
	if e == nil {
		return nil
	}
	return e.Fields[key]
}

// String returns a top-level field when it is a string.
func (e *RawEvent) String(key string) string {
	s, _ := e.Get(key).(string)
	return s
}

// Has reports whether the field is present, even if null.
func (e *RawEvent) Has(key string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Fields[key]
	return ok
}

// Parser is the source identifier used for classification.
func (e *RawEvent) Parser() string {
	return e.String(FieldParser)
}

// DateTime returns the native time container (plaso's date_time object) or
// an empty map when it is missing or not an object.
func (e *RawEvent) DateTime() map[string]any {
	if dt, ok := e.Get(FieldDateTime).(map[string]any); ok {
		return dt
	}
	return map[string]any{}
}

// Document returns a shallow copy of the record's fields to build on.
func (e *RawEvent) Document() Document {
	if e == nil {
		return Document{}
	}
	doc := make(Document, len(e.Fields)+2)
	for k, v := range e.Fields {
		doc[k] = v
	}
	return doc
}
