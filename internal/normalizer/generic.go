package normalizer

import (
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/timestamp"
)

// nativeOrNormalized prefers the date_time container, decoded by its class
// with FILETIME implied for unnamed Windows containers, and falls back to
// plaso's unix microsecond timestamp.
func nativeOrNormalized(ev *model.RawEvent) *string {
	return nativeOr(ev, timestamp.Filetime)
}

func nativeOr(ev *model.RawEvent, implied timestamp.Decoder) *string {
	return timestamp.First(
		timestamp.Native(ev.DateTime(), implied),
		timestamp.UnixMicro(ev.Get(model.FieldTimestamp)),
	)
}

// GenericTransformer stores unrecognised records as their raw line so no
// field of an unknown shape can cause a mapping conflict. Category is the
// class the record was routed under; the zero value means other.
type GenericTransformer struct {
	Category model.Category
}

func (g GenericTransformer) category() model.Category {
	if g.Category == "" {
		return model.CategoryOther
	}
	return g.Category
}

// Transform implements Transformer.
func (g GenericTransformer) Transform(ev *model.RawEvent) Result {
	c := g.category()
	return guard(ev, c, c, func() (Result, error) {
		doc := model.Document{
			model.FieldEventRawString: ev.Raw,
			model.FieldDataType:       ev.Get(model.FieldDataType),
			model.FieldParser:         ev.Get(model.FieldParser),
		}
		doc.SetTimestamp(nativeOrNormalized(ev))
		return One(Prune(doc), c), nil
	})
}
