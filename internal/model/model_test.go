package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

func TestDecodeRawEvent(t *testing.T) {
	t.Run("keeps large integers exact", func(t *testing.T) {
		line := `{"parser":"filestat","timestamp":130000000000000001}` + "\n"
		ev, err := model.DecodeRawEvent([]byte(line), 7)
		require.NoError(t, err)

		assert.Equal(t, 7, ev.Line)
		assert.Equal(t, "filestat", ev.Parser())
		assert.Equal(t, json.Number("130000000000000001"), ev.Get(model.FieldTimestamp))
		assert.Equal(t, line, ev.String(model.FieldEventRawString))
	})

	tests := []struct {
		name      string
		line      string
		notObject bool
	}{
		{"syntax error", `{"parser":`, false},
		{"array", `[1,2]`, true},
		{"null", `null`, true},
		{"trailing data", `{"a":1} {"b":2}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.DecodeRawEvent([]byte(tt.line), 1)
			require.Error(t, err)
			if tt.notObject {
				assert.ErrorIs(t, err, model.ErrNotObject)
			}
		})
	}
}

func TestRawEventAccessors(t *testing.T) {
	ev, err := model.DecodeRawEvent([]byte(`{"parser":"prefetch","date_time":{"timestamp":1},"gone":null}`), 1)
	require.NoError(t, err)

	assert.True(t, ev.Has("gone"))
	assert.False(t, ev.Has("missing"))
	assert.Equal(t, "", ev.String("date_time"))
	assert.Equal(t, json.Number("1"), ev.DateTime()["timestamp"])

	doc := ev.Document()
	doc["parser"] = "changed"
	assert.Equal(t, "prefetch", ev.Parser())

	var nilEvent *model.RawEvent
	assert.Nil(t, nilEvent.Get("parser"))
	assert.Empty(t, nilEvent.Document())
	assert.Empty(t, (&model.RawEvent{Fields: map[string]any{}}).DateTime())
}

func TestDocumentTimestamp(t *testing.T) {
	ts := "2023-11-14T22:13:20.000000Z"
	doc := model.Document{}.SetTimestamp(&ts)
	got, ok := doc.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, ts, got)

	doc = model.Document{}.SetTimestamp(nil)
	_, ok = doc.Timestamp()
	assert.False(t, ok)
	assert.Contains(t, doc, model.FieldCanonicalTimestamp)
	assert.Nil(t, doc[model.FieldCanonicalTimestamp])

	clone := doc.Clone()
	clone["extra"] = true
	assert.NotContains(t, doc, "extra")
}

func TestCategoryFamily(t *testing.T) {
	tests := []struct {
		category model.Category
		want     model.Family
	}{
		{model.CategoryEvtx, model.FamilyEvtx},
		{model.CategoryRunKey, model.FamilyHive},
		{model.CategoryUserAssist, model.FamilyHive},
		{model.CategorySRUMOther, model.FamilyProcess},
		{model.CategoryAmcacheOther, model.FamilyProcess},
		{model.CategoryLnk, model.FamilyFiles},
		{model.CategoryMFT, model.FamilyFiles},
		{model.CategoryBrowserHistoryOther, model.FamilyBrowserArtefacts},
		{model.CategoryDB, model.FamilyOthers},
		{model.CategoryWinFile, model.FamilyOthers},
		{model.Category("made_up"), model.FamilyOthers},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.category.Family())
		})
	}
}

func TestIndexNaming(t *testing.T) {
	assert.Equal(t, "ir_2024_01_ws_01", model.IndexPrefix("IR/2024.01", "WS 01"))
	assert.Equal(t, "case-a_host", model.IndexPrefix("Case-A", "HOST"))
	assert.Equal(t, "case-a_host_hive", model.IndexName("case-a_host", model.CategoryMRU))
	assert.Equal(t, "case-a_host_others", model.IndexName("case-a_host", model.CategoryOther))
}
