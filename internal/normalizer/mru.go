package normalizer

import (
	"iter"
	"regexp"
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

var mruEntry = regexp.MustCompile(`^Index:\s*(\d+)\s*\[MRU Value\s*(\d+)\]:\s*(?:Shell item path:\s*|Path:\s*)?(.*?)(?:,\s*Shell item:\s*\[(.*)\])?\s*$`)

// MRUEntry is one parsed line of an MRU list.
type MRUEntry struct {
	Index     int
	Rank      int
	Path      string
	ShellItem string
}

// ParseMRUEntry parses a formatted MRU list line such as
// "Index: 1 [MRU Value 2]: Shell item path: <My Computer> C:\Temp".
func ParseMRUEntry(line string) (MRUEntry, bool) {
	m := mruEntry.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return MRUEntry{}, false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return MRUEntry{}, false
	}
	rank, err := strconv.Atoi(m[2])
	if err != nil {
		return MRUEntry{}, false
	}
	return MRUEntry{Index: index, Rank: rank, Path: m[3], ShellItem: m[4]}, true
}

// MRUTransformer handles BagMRU and MRUListEx keys, emitting one document per
// list entry.
type MRUTransformer struct{}

// Transform implements Transformer.
func (MRUTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryMRU, model.CategoryMRU, func() (Result, error) {
		base := ev.Document().SetTimestamp(nativeOrNormalized(ev))
		Prune(base)

		entries := mruLines(ev.Get("entries"))
		if len(entries) == 0 {
			return One(base, model.CategoryMRU), nil
		}
		delete(base, "entries")
		return Many(mruDocuments(base, entries)), nil
	})
}

// mruLines accepts the entries either as a list or as one newline separated
// string.
func mruLines(v any) []any {
	switch entries := v.(type) {
	case []any:
		return entries
	case string:
		var lines []any
		for _, line := range strings.Split(entries, "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		return lines
	}
	return nil
}

func mruDocuments(base model.Document, entries []any) iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		for _, entry := range entries {
			doc := base.Clone()
			line, isString := entry.(string)
			if parsed, ok := ParseMRUEntry(line); isString && ok {
				doc["mru_index"] = parsed.Index
				doc["mru_rank"] = parsed.Rank
				doc["mru_path"] = parsed.Path
				if parsed.ShellItem != "" {
					doc["mru_shell_item"] = parsed.ShellItem
				}
			} else {
				doc["mru_entry_raw"] = rawText(entry)
			}
			if !yield(model.Output{Doc: doc, Category: model.CategoryMRU}) {
				return
			}
		}
	}
}
