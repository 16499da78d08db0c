package normalizer

import (
	"encoding/json"
	"fmt"
	"iter"
	"strconv"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/timestamp"
)

// prefetchContext lists the execution fields copied onto every mapped file
// document.
var prefetchContext = []string{
	"executable",
	"run_count",
	"prefetch_hash",
	"version",
	"path_hints",
	"volume_serial_numbers",
	"volume_device_paths",
	model.FieldFilename,
	model.FieldParser,
	model.FieldDataType,
}

// PrefetchTransformer handles prefetch execution records. A record with
// mapped files fans out into one document per loaded module.
type PrefetchTransformer struct{}

// Transform implements Transformer.
func (PrefetchTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryPrefetch, model.CategoryPrefetch, func() (Result, error) {
		base := model.Document{
			"prefetch_timestamp_type": ev.Get(model.FieldTimestampDesc),
		}
		for _, key := range prefetchContext {
			base[key] = ev.Get(key)
		}
		base.SetTimestamp(nativeOrNormalized(ev))

		if files, ok := ev.Get("mapped_files").([]any); ok && len(files) > 0 {
			return Many(mappedFiles(base, files)), nil
		}

		doc := ev.Document()
		delete(doc, model.FieldTimestampDesc)
		for k, v := range base {
			doc[k] = v
		}
		return One(Prune(doc), model.CategoryPrefetch), nil
	})
}

func mappedFiles(base model.Document, files []any) iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		for _, entry := range files {
			doc := base.Clone()
			if path, ok := entry.(string); ok {
				doc["mapped_file"] = path
			} else {
				doc["mapped_file_raw"] = rawText(entry)
			}
			if !yield(model.Output{Doc: Prune(doc), Category: model.CategoryPrefetch}) {
				return
			}
		}
	}
}

// SRUMTransformer handles System Resource Usage Monitor records. Every kept
// value is stored as a string since SRUM tables reuse column names with
// different types.
type SRUMTransformer struct{}

// Transform implements Transformer.
func (SRUMTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategorySRUM, model.CategorySRUMOther, func() (Result, error) {
		doc := model.Document{}
		for key, value := range ev.Fields {
			if value == nil || IsPruned(key) || key == model.FieldCanonicalTimestamp {
				continue
			}
			doc[key] = stringify(value)
		}
		doc.SetTimestamp(nativeOr(ev, timestamp.OLEAutomation))
		return One(doc, model.CategorySRUM), nil
	})
}

// stringify renders a decoded JSON value as text. Objects and arrays become
// their JSON encoding.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
