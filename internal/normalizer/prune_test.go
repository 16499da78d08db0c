package normalizer_test

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
)

func TestPrune(t *testing.T) {
	doc := model.Document{
		"__container_type__": "event",
		"__type__":           "AttributeContainer",
		"date_time":          map[string]any{"timestamp": 1},
		"_event_values_hash": "abc",
		"message":            "text",
		"xml_string":         "<Event/>",
		"timestamp":          1,
		"pathspec":           map[string]any{},
		"key_path":           `HKLM\Software`,
		"estimestamp":        "2023-11-14T22:13:20.000000Z",
	}

	pruned := normalizer.Prune(doc)
	assert.Equal(t, model.Document{
		"key_path":    `HKLM\Software`,
		"estimestamp": "2023-11-14T22:13:20.000000Z",
	}, pruned)

	// same map, not a copy
	pruned["extra"] = true
	assert.Contains(t, doc, "extra")
}

func TestPrune_Idempotent(t *testing.T) {
	doc := model.Document{"strings": []any{"a"}, "offset": 12, "filename": "NTUSER.DAT"}
	once := maps.Clone(normalizer.Prune(doc))
	twice := normalizer.Prune(doc)
	assert.Equal(t, once, twice)

	for _, f := range normalizer.PrunedFields {
		assert.NotContains(t, twice, f)
		assert.True(t, normalizer.IsPruned(f))
	}
	assert.False(t, normalizer.IsPruned("filename"))
}
