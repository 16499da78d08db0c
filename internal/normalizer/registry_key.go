package normalizer

import (
	"encoding/json"
	"iter"
	"regexp"
	"strings"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

type hivePattern struct {
	pattern  *regexp.Regexp
	hiveType string
}

// hiveFiles classifies the container file of a key, first match wins.
var hiveFiles = []hivePattern{
	{regexp.MustCompile(`(?i)SOFTWARE`), "software"},
	{regexp.MustCompile(`(?i)SYSTEM`), "system"},
	{regexp.MustCompile(`(?i)SECURITY`), "security"},
	{regexp.MustCompile(`(?i)SAM`), "sam"},
	{regexp.MustCompile(`(?i)NTUSER\.DAT`), "ntuser"},
	{regexp.MustCompile(`(?i)UsrClass\.dat`), "usrclass"},
}

const unknownHive = "unknown_hive"

// HiveType returns the hive classification of filename, or "" when no
// pattern matches. Only the base name is matched so directories such as
// System32 do not decide the hive.
func HiveType(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ""
	}
	for _, h := range hiveFiles {
		if h.pattern.MatchString(name) {
			return h.hiveType
		}
	}
	return ""
}

// ParseConfiguration extracts key/value pairs from a plaso configuration
// string such as the TimeZoneInformation summary. It returns the matches of
//
//	([a-zA-Z0-9]+):\s*([^:]+)(?=\s+[a-zA-Z0-9]+:|$)
//
// scanned left to right without overlap, keys and values trimmed. A value
// never contains ':', so "DaylightStart: 2020-03-08 02:00:00" yields
// DaylightStart=2020-03-08 and 00=00. RE2 has no lookahead, hence the
// hand-written matcher.
func ParseConfiguration(config string) [][2]string {
	var pairs [][2]string
	for pos := 0; pos < len(config); {
		key, value, end, ok := matchConfigPair(config, pos)
		if !ok {
			pos++
			continue
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(key), strings.TrimSpace(value)})
		pos = end
	}
	return pairs
}

// matchConfigPair tries a match starting exactly at i, backtracking the
// value the way a regex engine would: longest value first, then values
// starting inside the whitespace after the colon.
func matchConfigPair(s string, i int) (key, value string, end int, ok bool) {
	colon := skipAlnum(s, i)
	if colon == i || colon >= len(s) || s[colon] != ':' {
		return "", "", 0, false
	}
	afterColon := colon + 1
	start := skipSpace(s, afterColon)
	for ; start >= afterColon; start-- {
		limit := start
		for limit < len(s) && s[limit] != ':' {
			limit++
		}
		for e := limit; e > start; e-- {
			if configValueEnds(s, e) {
				return s[i:colon], s[start:e], e, true
			}
		}
	}
	return "", "", 0, false
}

// configValueEnds reports whether a value may stop at e: at the end of the
// input (or before a final newline) or ahead of whitespace and another key.
func configValueEnds(s string, e int) bool {
	if e == len(s) || (e == len(s)-1 && s[e] == '\n') {
		return true
	}
	keyStart := skipSpace(s, e)
	if keyStart == e {
		return false
	}
	colon := skipAlnum(s, keyStart)
	return colon > keyStart && colon < len(s) && s[colon] == ':'
}

func skipAlnum(s string, i int) int {
	for i < len(s) && isAlnum(s[i]) {
		i++
	}
	return i
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

// RegistryKeyTransformer handles generic winreg keys. Keys carrying a values
// list fan out into one document per value; TimeZoneInformation
// configuration strings fan out into one document per setting.
type RegistryKeyTransformer struct{}

// Transform implements Transformer.
func (RegistryKeyTransformer) Transform(ev *model.RawEvent) Result {
	return guard(ev, model.CategoryHive, model.CategoryHive, func() (Result, error) {
		filename := ev.String(model.FieldFilename)
		hiveType := HiveType(filename)
		if hiveType == "" {
			hiveType = unknownHive
		}

		base := model.Document{
			"key_path":          ev.Get("key_path"),
			model.FieldFilename: filename,
			model.FieldParser:   ev.Get(model.FieldParser),
			model.FieldDataType: ev.Get(model.FieldDataType),
			"hive_type":         hiveType,
		}
		base.SetTimestamp(nativeOrNormalized(ev))

		if values, ok := ev.Get("values").([]any); ok && len(values) > 0 {
			return Many(registryValues(base, values)), nil
		}

		configuration, _ := ev.Get("configuration").(string)
		if strings.Contains(configuration, "TimeZoneKeyName") {
			if pairs := ParseConfiguration(configuration); len(pairs) > 0 {
				return Many(configurationValues(base, pairs)), nil
			}
		}

		doc := ev.Document()
		delete(doc, "value_data")
		delete(doc, "value_type")
		for k, v := range base {
			doc[k] = v
		}
		if ev.Has("configuration") && ev.Get("configuration") != nil {
			doc["reg_configuration_raw"] = ev.Get("configuration")
		}
		Prune(doc)
		// the key's summary message is the only readable rendering of some
		// plugins, keep it after pruning
		if msg := ev.String(model.FieldMessage); msg != "" {
			doc[model.FieldMessage] = msg
		}
		return One(doc, model.CategoryHive), nil
	})
}

func registryValues(base model.Document, values []any) iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		for _, entry := range values {
			doc := base.Clone()
			if value, ok := entry.(map[string]any); ok {
				doc["reg_value_name"] = value["name"]
				doc["reg_value_data"] = value["data"]
				doc["reg_value_type"] = value["data_type"]
			} else {
				doc["reg_value_raw"] = rawText(entry)
			}
			if !yield(model.Output{Doc: Prune(doc), Category: model.CategoryHive}) {
				return
			}
		}
	}
}

func configurationValues(base model.Document, pairs [][2]string) iter.Seq[model.Output] {
	return func(yield func(model.Output) bool) {
		for _, pair := range pairs {
			doc := base.Clone()
			doc["reg_value_name"] = pair[0]
			doc["reg_value_data"] = pair[1]
			doc["reg_value_type"] = "ConfigString"
			if !yield(model.Output{Doc: Prune(doc), Category: model.CategoryHive}) {
				return
			}
		}
	}
}

// rawText renders a value that does not have the expected shape so it can be
// kept as text instead of dropped.
func rawText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
