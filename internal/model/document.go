package model

// FieldCanonicalTimestamp holds the reconciled instant on every document.
const FieldCanonicalTimestamp = "estimestamp"

// Document is one output record bound for the search backend.
type Document map[string]any

// Clone returns a copy of the top-level map. Nested values are shared, so
// per-entry documents must only set top-level keys on their clone.
func (d Document) Clone() Document {
	out := make(Document, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// SetTimestamp attaches the canonical timestamp. A nil pointer stores an
// explicit null so the field is never silently missing.
func (d Document) SetTimestamp(ts *string) Document {
	if ts == nil {
		d[FieldCanonicalTimestamp] = nil
		return d
	}
	d[FieldCanonicalTimestamp] = *ts
	return d
}

// Timestamp returns the canonical timestamp, if set and non-null.
func (d Document) Timestamp() (string, bool) {
	s, ok := d[FieldCanonicalTimestamp].(string)
	return s, ok
}

// Output pairs a produced document with its specific category key.
type Output struct {
	Doc      Document
	Category Category
}

// Assignment is the unit handed to the transport: target index plus document.
type Assignment struct {
	Index    string
	Category Category
	Doc      Document
}
