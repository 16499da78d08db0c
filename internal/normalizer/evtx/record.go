// Package evtx turns the XML payload of Windows event log records into
// typed sub-documents, selected by log channel and event id.
package evtx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/clbanning/mxj/v2"
)

// Prefixes used by mxj for attributes and element text.
const (
	attrPrefix = "-"
	textKey    = "#text"
)

// Record is the decoded XML of one event, rooted at "Event".
type Record map[string]any

// Decode parses an event XML payload into a Record. The XML declaration is
// dropped first because plaso keeps the UTF-16 encoding label of the source
// file while the payload itself is already UTF-8.
func Decode(payload string) (Record, error) {
	m, err := decodeXML(payload)
	if err != nil {
		return nil, fmt.Errorf("decode event xml: %w", err)
	}
	return Record(m), nil
}

func decodeXML(payload string) (map[string]any, error) {
	b := bytes.TrimSpace([]byte(payload))
	if bytes.HasPrefix(b, []byte("<?xml")) {
		end := bytes.Index(b, []byte("?>"))
		if end < 0 {
			return nil, fmt.Errorf("unterminated xml declaration")
		}
		b = bytes.TrimSpace(b[end+2:])
	}
	m, err := mxj.NewMapXml(b)
	if err != nil {
		return nil, err
	}
	return map[string]any(m), nil
}

// Map returns the record as a plain map for JSON encoding.
func (r Record) Map() map[string]any {
	return map[string]any(r)
}

func (r Record) event() map[string]any {
	return object(r["Event"])
}

// System returns the System block.
func (r Record) System() map[string]any {
	return object(r.event()["System"])
}

// UserData returns the UserData block.
func (r Record) UserData() map[string]any {
	return object(r.event()["UserData"])
}

// EventData flattens the EventData block: named Data elements become keys,
// the raw Data list is kept under "Data" for payloads with unnamed
// parameters, and any sibling elements are copied as-is.
func (r Record) EventData() map[string]any {
	block, ok := r.event()["EventData"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	items, hasData := block["Data"]
	if !hasData {
		return block
	}

	out := make(map[string]any, len(block)+4)
	for k, v := range block {
		if k != "Data" {
			out[k] = v
		}
	}
	list := asList(items)
	if len(list) == 0 {
		return out
	}
	out["Data"] = list
	for _, item := range list {
		named, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, ok := named[attrPrefix+"Name"].(string)
		if !ok {
			continue
		}
		out[name] = named[textKey]
	}
	return out
}

// EventID returns the numeric event id, or 0 when absent or malformed.
func (r Record) EventID() int {
	return intValue(r.System()["EventID"])
}

// Provider returns the provider name.
func (r Record) Provider() any {
	return object(r.System()["Provider"])[attrPrefix+"Name"]
}

// Channel returns the channel name recorded in the event.
func (r Record) Channel() any {
	return r.System()["Channel"]
}

// TimeCreated returns the SystemTime attribute of TimeCreated.
func (r Record) TimeCreated() string {
	s, _ := object(r.System()["TimeCreated"])[attrPrefix+"SystemTime"].(string)
	return s
}

// intValue reads an integer that may be a plain string or an element with
// attributes ({"#text": "4624", "-Qualifiers": ""}).
func intValue(v any) int {
	switch val := v.(type) {
	case map[string]any:
		if s, ok := val["-Value"]; ok {
			return intValue(s)
		}
		return intValue(val[textKey])
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(val)
	case int:
		return val
	}
	return 0
}

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case string:
		if val == "" {
			return nil
		}
	}
	return []any{v}
}

// text returns the string form of an element value, reading "#text" when
// the element carries attributes.
func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		s, _ := val[textKey].(string)
		return s
	}
	return ""
}
