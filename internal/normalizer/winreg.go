package normalizer

import "github.com/telhawk-systems/telhawk-forensics/internal/model"

// keyTransform is the shared shape of the registry plugins that keep the
// whole record: stamp the key's LastWriteTime, optionally rename
// timestamp_desc, prune.
func keyTransform(ev *model.RawEvent, c model.Category, descField string) Result {
	return guard(ev, c, c, func() (Result, error) {
		doc := ev.Document().SetTimestamp(nativeOrNormalized(ev))
		if descField != "" {
			if desc, ok := doc[model.FieldTimestampDesc]; ok {
				delete(doc, model.FieldTimestampDesc)
				doc[descField] = desc
			}
		}
		return One(Prune(doc), c), nil
	})
}

// RunKeyTransformer handles Run/RunOnce persistence keys. The values list is
// kept as-is on the single document.
type RunKeyTransformer struct{}

// Transform implements Transformer.
func (RunKeyTransformer) Transform(ev *model.RawEvent) Result {
	return keyTransform(ev, model.CategoryRunKey, "")
}

// USBTransformer handles USB device registry keys.
type USBTransformer struct{}

// Transform implements Transformer.
func (USBTransformer) Transform(ev *model.RawEvent) Result {
	return keyTransform(ev, model.CategoryUSB, "")
}

// UserAssistTransformer handles UserAssist execution counters.
type UserAssistTransformer struct{}

// Transform implements Transformer.
func (UserAssistTransformer) Transform(ev *model.RawEvent) Result {
	return keyTransform(ev, model.CategoryUserAssist, "userassist_timestamp_type")
}

// AppCompatCacheTransformer handles ShimCache entries.
type AppCompatCacheTransformer struct{}

// Transform implements Transformer.
func (AppCompatCacheTransformer) Transform(ev *model.RawEvent) Result {
	return keyTransform(ev, model.CategoryAppCompatCache, "")
}

// AmcacheTransformer handles Amcache.hve entries, whose native time is a
// decomposed time_elements_tuple.
type AmcacheTransformer struct{}

// Transform implements Transformer.
func (AmcacheTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryAmcache, model.CategoryAmcacheOther, func() (Result, error) {
		doc := ev.Document().SetTimestamp(nativeOrNormalized(ev))
		return One(Prune(doc), model.CategoryAmcache), nil
	})
}
