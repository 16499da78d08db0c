package normalizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
	"github.com/tidwall/gjson"
)

const processXML = `<?xml version="1.0" encoding="UTF-16"?>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>4688</EventID>
    <TimeCreated SystemTime="2023-11-14T22:13:25.1234567Z"/>
    <Channel>Security</Channel>
    <Computer>WS01</Computer>
  </System>
  <EventData>
    <Data Name="NewProcessName">C:\Windows\System32\whoami.exe</Data>
    <Data Name="ProcessId">0x1a4</Data>
    <Data Name="CreatorProcessId">0x10</Data>
  </EventData>
</Event>`

func TestEvtxTransformer(t *testing.T) {
	tr := normalizer.NewEvtxTransformer()

	t.Run("typed handler", func(t *testing.T) {
		ev := eventOf(t, map[string]any{
			"parser":           "winevtx",
			"filename":         `C:\Windows\System32\winevt\Logs\Security.evtx`,
			"event_identifier": 4688,
			"xml_string":       processXML,
			"message":          "A new process has been created.",
			"timestamp":        unixMicro,
			"date_time":        filetime(),
		})

		outs := tr.Transform(ev).Collect()
		require.Len(t, outs, 1)
		assert.Equal(t, model.CategoryEvtx, outs[0].Category)

		js := docJSON(t, outs[0].Doc)
		assert.Equal(t, "2023-11-14T22:13:25.123456Z", gjson.Get(js, "estimestamp").String())
		assert.Equal(t, "security", gjson.Get(js, normalizer.FieldEvtxType).String())
		assert.Equal(t, "process_started", gjson.Get(js, "winlog_parsed.event.action").String())
		assert.Equal(t, int64(420), gjson.Get(js, "winlog_parsed.process.pid").Int())
		assert.Equal(t, "whoami.exe", gjson.Get(js, "winlog_parsed.process.name").String())
		assert.False(t, gjson.Get(js, "winlog_parsed.event.original").Exists())
		assert.False(t, gjson.Get(js, "winlog_parsed.host").Exists())
		assert.False(t, gjson.Get(js, "xml_string").Exists())
		assert.False(t, gjson.Get(js, "message").Exists())

		decoded := gjson.Get(js, normalizer.FieldEvtxJSON).String()
		assert.Equal(t, "4688", gjson.Get(decoded, "Event.System.EventID").String())
	})

	t.Run("event id from xml when plaso omits it", func(t *testing.T) {
		ev := eventOf(t, map[string]any{
			"parser":     "winevtx",
			"filename":   "Security.evtx",
			"xml_string": processXML,
		})
		outs := tr.Transform(ev).Collect()
		require.Len(t, outs, 1)
		js := docJSON(t, outs[0].Doc)
		assert.Equal(t, "process_started", gjson.Get(js, "winlog_parsed.event.action").String())
	})

	t.Run("unknown channel uses generic flattening", func(t *testing.T) {
		ev := eventOf(t, map[string]any{
			"parser":           "winevtx",
			"filename":         "Application.evtx",
			"event_identifier": 4688,
			"xml_string":       processXML,
		})
		outs := tr.Transform(ev).Collect()
		require.Len(t, outs, 1)
		js := docJSON(t, outs[0].Doc)
		assert.False(t, gjson.Get(js, normalizer.FieldEvtxType).Exists())
		assert.Contains(t, gjson.Get(js, "winlog_parsed.winlog.event_data_str").String(), "whoami.exe")
	})

	t.Run("no xml payload", func(t *testing.T) {
		ev := eventOf(t, map[string]any{"parser": "winevtx", "timestamp": unixMicro, "date_time": filetime()})
		outs := tr.Transform(ev).Collect()
		require.Len(t, outs, 1)
		assert.Equal(t, filetimeISO, outs[0].Doc[model.FieldCanonicalTimestamp])
		assert.NotContains(t, outs[0].Doc, normalizer.FieldEvtxParsed)
	})

	t.Run("broken xml yields error document", func(t *testing.T) {
		ev := eventOf(t, map[string]any{"parser": "winevtx", "xml_string": "<Event><<", "timestamp": unixMicro})
		outs := tr.Transform(ev).Collect()
		require.Len(t, outs, 1)
		assert.Equal(t, model.CategoryEvtx, outs[0].Category)
		assert.Contains(t, outs[0].Doc, normalizer.FieldProcessingError)
		assert.Equal(t, unixISO, outs[0].Doc[model.FieldCanonicalTimestamp])
		assert.Equal(t, ev.Raw, outs[0].Doc[normalizer.FieldRawEventLine])
	})
}
