package normalizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/timestamp"
)

const notATime = "Not a time"

// lnkPathSources lists the shortcut path fields from most to least concrete.
var lnkPathSources = []string{"local_path", "network_path", "link_target", "shell_item_path"}

// shellLabel matches leading shell namespace labels such as "<My Computer>"
// or "[Desktop]".
var shellLabel = regexp.MustCompile(`^(?:\s*(?:<[^>]*>|\[[^\]]*\]))+\s*`)

// LnkPath returns the consolidated target path of a shortcut and the field it
// came from. Both are empty when no candidate holds a usable path.
func LnkPath(fields map[string]any) (path, source string) {
	for _, key := range lnkPathSources {
		s, ok := fields[key].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(shellLabel.ReplaceAllString(s, ""))
		if s != "" {
			return s, key
		}
	}
	return "", ""
}

// LnkTransformer handles Windows shortcut files.
type LnkTransformer struct{}

// Transform implements Transformer.
func (LnkTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryLnk, model.CategoryLnk, func() (Result, error) {
		doc := ev.Document()

		var ts *string
		if ev.String(model.FieldTimestampDesc) == notATime || isZero(ev.Get(model.FieldTimestamp)) {
			ts = timestamp.First(timestamp.UnixMicro(ev.Get(model.FieldTimestamp)))
		} else {
			ts = nativeOrNormalized(ev)
		}
		doc.SetTimestamp(ts)

		if desc, ok := doc[model.FieldTimestampDesc]; ok {
			delete(doc, model.FieldTimestampDesc)
			doc["lnk_timestamp_type"] = desc
		}
		if path, source := LnkPath(ev.Fields); path != "" {
			doc["lnk_path"] = path
			doc["lnk_path_source"] = source
		}
		return One(Prune(doc), model.CategoryLnk), nil
	})
}

func isZero(v any) bool {
	switch n := v.(type) {
	case json.Number:
		return n.String() == "0"
	case int:
		return n == 0
	case int64:
		return n == 0
	case float64:
		return n == 0
	}
	return false
}

// mftTimestampTypes shortens plaso's timestamp role descriptors.
var mftTimestampTypes = map[string]string{
	"File Creation Time":        "creation",
	"Creation Time":             "creation",
	"Content Modification Time": "modification",
	"Content Access Time":       "access",
	"Last Access Time":          "access",
	"Entry Modification Time":   "entry_modification",
}

// MFTTimestampType maps a timestamp descriptor to its short form, returning
// the descriptor unchanged when it is not known.
func MFTTimestampType(desc string) string {
	if short, ok := mftTimestampTypes[desc]; ok {
		return short
	}
	return desc
}

// MFTTransformer handles filestat, USN journal and MFT records.
type MFTTransformer struct{}

// Transform implements Transformer.
func (MFTTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryMFT, model.CategoryMFT, func() (Result, error) {
		doc := ev.Document().SetTimestamp(nativeOrNormalized(ev))

		if desc, ok := doc[model.FieldTimestampDesc]; ok {
			delete(doc, model.FieldTimestampDesc)
			if s, isString := desc.(string); isString {
				doc["mft_timestamp_type"] = MFTTimestampType(s)
			} else {
				doc["mft_timestamp_type"] = desc
			}
		}
		// file references exceed the long range of the backend when mapped
		// as numbers
		if ref, ok := doc["file_reference"]; ok && ref != nil {
			doc["file_reference"] = stringify(ref)
		}
		return One(Prune(doc), model.CategoryMFT), nil
	})
}
