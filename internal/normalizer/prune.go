package normalizer

import "github.com/telhawk-systems/telhawk-forensics/internal/model"

// PrunedFields are plaso bookkeeping fields dropped from every document:
// container markers, the native time container now folded into estimestamp,
// dedup hashes, verbose display strings, raw XML already re-encoded, and the
// original numeric timestamp.
var PrunedFields = []string{
	"__container_type__",
	"__type__",
	"date_time",
	"_event_values_hash",
	"display_name",
	"inode",
	"pathspec",
	"strings",
	"message",
	"xml_string",
	"event_version",
	"message_identifier",
	"offset",
	"provider_identifier",
	"recovered",
	"timestamp",
}

var prunedSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(PrunedFields))
	for _, f := range PrunedFields {
		set[f] = struct{}{}
	}
	return set
}()

// Prune removes PrunedFields from doc in place and returns it for chaining.
func Prune(doc model.Document) model.Document {
	for _, f := range PrunedFields {
		delete(doc, f)
	}
	return doc
}

// IsPruned reports whether key is on the prune list.
func IsPruned(key string) bool {
	_, ok := prunedSet[key]
	return ok
}
