package normalizer_test

import (
	"encoding/json"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
)

// rawEvent decodes a literal timeline line.
func rawEvent(t *testing.T, line string) *model.RawEvent {
	t.Helper()
	ev, err := model.DecodeRawEvent([]byte(line), 1)
	require.NoError(t, err)
	return ev
}

// eventOf marshals fields into a timeline line and decodes it, so tests can
// build records without hand-escaping Windows paths.
func eventOf(t *testing.T, fields map[string]any) *model.RawEvent {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return rawEvent(t, string(b))
}

func TestRegistry_Classify(t *testing.T) {
	registry := normalizer.NewDefaultRegistry()

	testCases := []struct {
		parser   string
		expected model.Category
	}{
		{"esedb/srum", model.CategorySRUM},
		{"winreg/amcache", model.CategoryAmcache},
		{"winreg/appcompatcache", model.CategoryAppCompatCache},
		{"winreg/windows_run", model.CategoryRunKey},
		{"winreg/windows_usb_devices", model.CategoryUSB},
		{"winreg/bagmru", model.CategoryMRU},
		{"winreg/mrulistex_string", model.CategoryMRU},
		{"winreg/userassist", model.CategoryUserAssist},
		{"sqlite/chrome_27_history", model.CategoryBrowserHistory},
		{"sqlite/firefox_history", model.CategoryBrowserHistory},
		{"winevtx", model.CategoryEvtx},
		{"winreg/winreg_default", model.CategoryHive},
		{"sqlite/skype", model.CategoryDB},
		{"esedb/msie_webcache", model.CategoryDB},
		{"lnk", model.CategoryLnk},
		{"olecf/olecf_automatic_destinations/lnk", model.CategoryLnk},
		{"prefetch", model.CategoryPrefetch},
		{"text/setupapi", model.CategoryWinFile},
		{"filestat", model.CategoryMFT},
		{"usnjrnl", model.CategoryMFT},
		{"mft", model.CategoryMFT},
		{"pe", model.CategoryOther},
		{"", model.CategoryOther},
	}

	for _, tc := range testCases {
		t.Run(tc.parser, func(t *testing.T) {
			assert.Equal(t, tc.expected, registry.Classify(tc.parser))
		})
	}
}

func TestRegistry_Classify_SpecificBeforeGeneric(t *testing.T) {
	registry := normalizer.NewDefaultRegistry()
	parser := "winreg/windows_run"

	var runkey, hive = -1, -1
	for i, r := range registry.Rules() {
		if !r.Pattern.MatchString(parser) {
			continue
		}
		switch r.Category {
		case model.CategoryRunKey:
			runkey = i
		case model.CategoryHive:
			hive = i
		}
	}
	require.NotEqual(t, -1, runkey)
	require.NotEqual(t, -1, hive, "identifier must match both rules")
	assert.Less(t, runkey, hive)
	assert.Equal(t, model.CategoryRunKey, registry.Classify(parser))
}

func TestRegistry_Classify_Total(t *testing.T) {
	registry := normalizer.NewDefaultRegistry()
	faker := gofakeit.New(42)

	known := make(map[model.Category]bool)
	for _, r := range registry.Rules() {
		known[r.Category] = true
	}

	for i := 0; i < 200; i++ {
		parser := faker.Word() + "/" + faker.LetterN(8)
		c := registry.Classify(parser)
		assert.True(t, known[c], "parser %q classified into unknown category %q", parser, c)
	}
}

func TestRegistry_Rules_EndsWithCatchAll(t *testing.T) {
	rules := normalizer.NewDefaultRegistry().Rules()
	require.NotEmpty(t, rules)

	last := rules[len(rules)-1]
	assert.Equal(t, model.CategoryOther, last.Category)
	assert.True(t, last.Pattern.MatchString(""))
}

func TestRegistry_Transform_RunKey(t *testing.T) {
	registry := normalizer.NewDefaultRegistry()
	ev := rawEvent(t, `{"parser":"winreg/windows_run","timestamp":1700000000000000,"values":[{"name":"Updater","data":"C:\\u.exe","data_type":"string"}]}`)

	category, result := registry.Transform(ev)
	assert.Equal(t, model.CategoryRunKey, category)
	require.True(t, result.IsOne())

	outs := result.Collect()
	require.Len(t, outs, 1)
	assert.Equal(t, model.CategoryRunKey, outs[0].Category)

	ts, ok := outs[0].Doc.Timestamp()
	require.True(t, ok)
	assert.Equal(t, "2023-11-14T22:13:20.000000Z", ts)
	assert.NotContains(t, outs[0].Doc, "timestamp")
	assert.Contains(t, outs[0].Doc, "values")
}

func TestRegistry_Transform_Fallback(t *testing.T) {
	registry := normalizer.NewRegistry(normalizer.DefaultRules, normalizer.GenericTransformer{})
	ev := rawEvent(t, `{"parser":"winreg/windows_run","timestamp":1700000000000000}`)

	category, result := registry.Transform(ev)
	assert.Equal(t, model.CategoryRunKey, category)

	outs := result.Collect()
	require.Len(t, outs, 1)
	assert.Equal(t, model.CategoryOther, outs[0].Category)
	assert.Equal(t, ev.Raw, outs[0].Doc[model.FieldEventRawString])
}

func TestRegistry_Transform_RecoversPanics(t *testing.T) {
	t.Run("panic in transformer", func(t *testing.T) {
		registry := normalizer.NewRegistry(normalizer.DefaultRules, nil).
			Register(model.CategoryLnk, normalizer.TransformerFunc(func(*model.RawEvent) normalizer.Result {
				panic("boom")
			}))
		ev := rawEvent(t, `{"parser":"lnk","timestamp":1700000000000000}`)

		_, result := registry.Transform(ev)
		outs := result.Collect()
		require.Len(t, outs, 1)
		assert.Equal(t, model.CategoryLnk, outs[0].Category)
		assert.Contains(t, outs[0].Doc[normalizer.FieldProcessingError], "boom")
		assert.Equal(t, ev.Raw, outs[0].Doc[normalizer.FieldRawEventLine])
		assert.Equal(t, "lnk", outs[0].Doc[normalizer.FieldOriginalArtefact])
	})

	t.Run("panic inside lazy sequence", func(t *testing.T) {
		registry := normalizer.NewRegistry(normalizer.DefaultRules, nil).
			Register(model.CategoryPrefetch, normalizer.TransformerFunc(func(*model.RawEvent) normalizer.Result {
				return normalizer.Many(func(yield func(model.Output) bool) {
					if !yield(model.Output{Doc: model.Document{"n": 1}, Category: model.CategoryPrefetch}) {
						return
					}
					panic("half way")
				})
			}))
		ev := rawEvent(t, `{"parser":"prefetch"}`)

		_, result := registry.Transform(ev)
		outs := result.Collect()
		require.Len(t, outs, 2)
		assert.Equal(t, 1, outs[0].Doc["n"])
		assert.Contains(t, outs[1].Doc[normalizer.FieldProcessingError], "half way")
	})

	t.Run("no transformer and no fallback", func(t *testing.T) {
		registry := normalizer.NewRegistry(normalizer.DefaultRules, nil)
		ev := rawEvent(t, `{"parser":"mft"}`)

		_, result := registry.Transform(ev)
		outs := result.Collect()
		require.Len(t, outs, 1)
		assert.Equal(t, model.CategoryMFT, outs[0].Category)
		assert.Nil(t, outs[0].Doc[model.FieldCanonicalTimestamp])
	})
}

func TestResult(t *testing.T) {
	t.Run("empty yields nothing", func(t *testing.T) {
		r := normalizer.Empty()
		assert.True(t, r.IsEmpty())
		assert.Empty(t, r.Collect())
	})

	t.Run("nil sequence is empty", func(t *testing.T) {
		assert.True(t, normalizer.Many(nil).IsEmpty())
	})

	t.Run("stops when consumer stops", func(t *testing.T) {
		produced := 0
		r := normalizer.Many(func(yield func(model.Output) bool) {
			for i := 0; i < 10; i++ {
				produced++
				if !yield(model.Output{Doc: model.Document{}}) {
					return
				}
			}
		})
		for range r.All() {
			break
		}
		assert.Equal(t, 1, produced)
	})
}
