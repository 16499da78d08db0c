package normalizer

import (
	"iter"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

type resultKind int

const (
	kindEmpty resultKind = iota
	kindOne
	kindMany
)

// Result is what a transformer yields for one record: exactly one document,
// a lazy sequence of documents, or nothing.
type Result struct {
	kind resultKind
	one  model.Output
	many iter.Seq[model.Output]
}

// One wraps a single document.
func One(doc model.Document, category model.Category) Result {
	return Result{kind: kindOne, one: model.Output{Doc: doc, Category: category}}
}

// Many wraps a lazily produced sequence of documents.
func Many(seq iter.Seq[model.Output]) Result {
	if seq == nil {
		return Empty()
	}
	return Result{kind: kindMany, many: seq}
}

// Empty yields no documents.
func Empty() Result {
	return Result{kind: kindEmpty}
}

// IsOne reports whether the result holds a single document.
func (r Result) IsOne() bool { return r.kind == kindOne }

// IsMany reports whether the result holds a sequence.
func (r Result) IsMany() bool { return r.kind == kindMany }

// IsEmpty reports whether the result yields nothing.
func (r Result) IsEmpty() bool { return r.kind == kindEmpty }

// All iterates every output regardless of the variant.
func (r Result) All() iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		switch r.kind {
		case kindOne:
			yield(r.one)
		case kindMany:
			for out := range r.many {
				if !yield(out) {
					return
				}
			}
		}
	}
}

// Collect materialises the result. Intended for tests and small fan-outs.
func (r Result) Collect() []model.Output {
	var outs []model.Output
	for out := range r.All() {
		outs = append(outs, out)
	}
	return outs
}
