package normalizer

import (
	"fmt"
	"iter"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/timestamp"
)

// Fields carried by error documents.
const (
	FieldProcessingError  = "processing_error"
	FieldRawEventLine     = "raw_event_line"
	FieldOriginalArtefact = "original_artefact_type"
)

// ErrorDocument builds the diagnostic document emitted instead of raising.
// original is the category the classifier assigned; route is where the
// document is indexed. Both are kept so failures can be filtered next to
// the data they belong to.
func ErrorDocument(ev *model.RawEvent, original, route model.Category, err error) model.Output {
	doc := model.Document{
		model.FieldMessage:    fmt.Sprintf("%s parsing failed: %v", original, err),
		FieldProcessingError:  err.Error(),
		FieldOriginalArtefact: string(original),
		model.FieldParser:     ev.Get(model.FieldParser),
	}
	if ev != nil {
		doc[FieldRawEventLine] = ev.Raw
	}
	doc.SetTimestamp(timestamp.First(timestamp.UnixMicro(ev.Get(model.FieldTimestamp))))
	return model.Output{Doc: doc, Category: route}
}

// guard runs fn and converts a returned error or a panic into an error
// document. Lazy sequences are wrapped so failures during iteration surface
// the same way.
func guard(ev *model.RawEvent, original, route model.Category, fn func() (Result, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			out := ErrorDocument(ev, original, route, fmt.Errorf("panic: %v", r))
			res = One(out.Doc, out.Category)
		}
	}()

	res, err := fn()
	if err != nil {
		out := ErrorDocument(ev, original, route, err)
		return One(out.Doc, out.Category)
	}
	if res.IsMany() {
		return Many(guardSeq(ev, original, route, res.many))
	}
	return res
}

// guardSeq recovers panics raised by the producer. Panics raised by the
// consumer inside yield are left alone.
func guardSeq(ev *model.RawEvent, original, route model.Category, seq iter.Seq[model.Output]) iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		inYield := false
		defer func() {
			if inYield {
				return
			}
			if r := recover(); r != nil {
				yield(ErrorDocument(ev, original, route, fmt.Errorf("panic: %v", r)))
			}
		}()
		seq(func(out model.Output) bool {
			inYield = true
			ok := yield(out)
			inYield = false
			return ok
		})
	}
}
