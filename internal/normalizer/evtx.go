package normalizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer/evtx"
	"github.com/telhawk-systems/telhawk-forensics/internal/timestamp"
)

// EVTX output fields.
const (
	FieldEvtxJSON   = "Data_json_string"
	FieldEvtxType   = "evtx_type"
	FieldEvtxParsed = "winlog_parsed"
)

// EvtxTransformer handles winevtx records, decoding their XML payload and
// attaching the channel-specific sub-document.
type EvtxTransformer struct {
	dispatcher *evtx.Dispatcher
}

// NewEvtxTransformer creates a transformer using the default handler tables.
func NewEvtxTransformer() *EvtxTransformer {
	return &EvtxTransformer{dispatcher: evtx.NewDispatcher(evtx.DefaultTables())}
}

// Transform implements Transformer.
func (t *EvtxTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryEvtx, model.CategoryEvtx, func() (Result, error) {
		doc := ev.Document()

		payload := ev.String("xml_string")
		if strings.TrimSpace(payload) == "" {
			doc.SetTimestamp(nativeOrNormalized(ev))
			return One(Prune(doc), model.CategoryEvtx), nil
		}

		record, err := evtx.Decode(payload)
		if err != nil {
			return Result{}, err
		}
		encoded, err := json.Marshal(record.Map())
		if err != nil {
			return Result{}, fmt.Errorf("encode event xml: %w", err)
		}
		doc[FieldEvtxJSON] = string(encoded)

		// the three sources disagree on precision; keep the latest valid one
		doc.SetTimestamp(timestamp.Latest(
			timestamp.UnixMicro(ev.Get(model.FieldTimestamp)),
			timestamp.Native(ev.DateTime(), timestamp.Filetime),
			timestamp.ISO8601(record.TimeCreated()),
		))

		channel, known := evtx.ChannelFor(ev.String(model.FieldFilename))
		if known {
			doc[FieldEvtxType] = string(channel)
		}

		parsed, err := t.dispatcher.Dispatch(channel, eventID(ev, record), record)
		if err != nil {
			return Result{}, err
		}
		delete(parsed.Doc, "@timestamp")
		delete(parsed.Doc, "host")
		if event, ok := parsed.Doc["event"].(map[string]any); ok {
			delete(event, "original")
		}
		doc[FieldEvtxParsed] = parsed.Doc

		return One(Prune(doc), model.CategoryEvtx), nil
	})
}

// eventID prefers plaso's event_identifier and falls back to the XML.
func eventID(ev *model.RawEvent, record evtx.Record) int {
	switch v := ev.Get("event_identifier").(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	case float64:
		return int(v)
	}
	return record.EventID()
}
