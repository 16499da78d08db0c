package normalizer

import (
	"strings"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

// browserExcluded are kept out of the confined sub-object: bookkeeping
// fields plus the ones promoted to the top level.
var browserExcluded = map[string]struct{}{
	model.FieldCanonicalTimestamp: {},
	model.FieldDataType:           {},
	model.FieldEventRawString:     {},
	model.FieldMessage:            {},
	model.FieldParser:             {},
	"query":                       {},
}

// SplitBrowserType splits a "browser:category:subtype" data type into the
// browser name and the remaining event type. Descriptors with fewer than two
// parts yield "unknown" for both.
func SplitBrowserType(dataType string) (browser, eventType string) {
	parts := strings.Split(dataType, ":")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	return parts[0], strings.Join(parts[1:], ":")
}

// confinedKey names the sub-object for eventType. A name already taken by a
// top-level field gets a "history_" prefix.
func confinedKey(doc model.Document, eventType string) string {
	key := strings.ReplaceAll(eventType, ":", "_")
	if _, taken := doc[key]; taken || key == model.FieldCanonicalTimestamp {
		return "history_" + key
	}
	return key
}

// BrowserHistoryTransformer handles Chrome, Firefox and Edge history
// databases. Type-specific fields are nested under a key derived from the
// event type so unrelated browser events never share a field name.
type BrowserHistoryTransformer struct{}

// Transform implements Transformer.
func (BrowserHistoryTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryBrowserHistory, model.CategoryBrowserHistoryOther, func() (Result, error) {
		dataType := ev.String(model.FieldDataType)
		if dataType == "" {
			dataType = "unknown:unknown"
		}
		browser, eventType := SplitBrowserType(dataType)

		confined := make(map[string]any, len(ev.Fields))
		for key, value := range ev.Fields {
			if IsPruned(key) {
				continue
			}
			if _, skip := browserExcluded[key]; skip {
				continue
			}
			confined[key] = value
		}

		doc := model.Document{
			"browser":                 browser,
			"event_type":              eventType,
			model.FieldParser:         ev.Get(model.FieldParser),
			model.FieldDataType:       dataType,
			model.FieldEventRawString: ev.Raw,
		}
		doc[confinedKey(doc, eventType)] = confined
		doc.SetTimestamp(nativeOrNormalized(ev))
		return One(doc, model.CategoryBrowserHistory), nil
	})
}

