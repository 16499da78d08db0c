package command_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-forensics/internal/command"
	"github.com/telhawk-systems/telhawk-forensics/internal/pipeline"
)

const timeline = `{"parser":"winreg/windows_run","timestamp":1700000000000000,"values":[{"name":"Updater","data":"C:\\u.exe","data_type":"string"}]}

not json
{"parser":"filestat","timestamp":1700000000000000,"timestamp_desc":"Creation Time","filename":"C:\\Windows\\notepad.exe"}
`

func run(t *testing.T, fsys afero.Fs, args ...string) (string, string, error) {
	t.Helper()
	root := command.NewRootCommand(command.WithFs(fsys))
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := command.NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"ingest", "templates", "rules", "dlq"})
}

func TestIngestDryRun(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/evidence/timeline.jsonl", []byte(timeline), 0o644))

	stdout, stderr, err := run(t, fsys, "ingest",
		"--case-name", "IR 2024",
		"--machine-name", "WS 01",
		"--timeline", "/evidence/timeline.jsonl",
		"--dry-run",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t, "ir_2024_ws_01_hive", gjson.Get(lines[0], "_index").String())
	assert.Equal(t, "2023-11-14T22:13:20.000000Z", gjson.Get(lines[0], "_source.estimestamp").String())
	assert.Equal(t, "ir_2024_ws_01_files", gjson.Get(lines[1], "_index").String())
	assert.Equal(t, "creation", gjson.Get(lines[1], "_source.mft_timestamp_type").String())

	assert.Contains(t, stderr, "malformed")
	assert.Contains(t, stderr, "records processed")
	assert.Contains(t, stderr, "Run finished")
	assert.Contains(t, stderr, `"msg":"starting ingest"`)
	assert.Contains(t, stderr, `"run_id":`)
	assert.NotContains(t, stderr, "DEAD LETTER QUEUE")
}

// rejectingCluster accepts templates and rejects every bulk item.
func rejectingCluster(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/" && r.Method == http.MethodGet:
			_, _ = io.WriteString(w, `{"name":"node-1","cluster_name":"test","version":{"distribution":"opensearch","number":"2.11.0"}}`)
		case strings.HasPrefix(r.URL.Path, "/_index_template/"):
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			var items []map[string]any
			scanner := bufio.NewScanner(r.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
			for scanner.Scan() {
				index := gjson.GetBytes(scanner.Bytes(), "index._index").String()
				if !scanner.Scan() {
					break
				}
				items = append(items, map[string]any{"index": map[string]any{
					"_index": index,
					"status": 400,
					"error":  map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse"},
				}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": true, "items": items})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestDeadLetters(t *testing.T) {
	t.Setenv("THAWK_FORENSICS_DLQ_ENABLED", "true")
	t.Setenv("THAWK_FORENSICS_DLQ_BASE_PATH", "/dlq")
	srv := rejectingCluster(t)

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/evidence/timeline.jsonl", []byte(timeline), 0o644))

	stdout, _, err := run(t, fsys, "ingest",
		"--case-name", "c",
		"--machine-name", "m",
		"--es-hosts", srv.URL,
		"--timeline", "/evidence/timeline.jsonl",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "DEAD LETTER QUEUE")
	assert.Contains(t, stdout, "2 documents were rejected")

	entries, err := afero.ReadDir(fsys, "/dlq")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	queueFile := "/dlq/" + entries[0].Name()
	assert.Contains(t, stdout, queueFile)

	t.Run("read back by path", func(t *testing.T) {
		out, _, err := run(t, fsys, "dlq", queueFile, "-o", "json")
		require.NoError(t, err)
		assert.Equal(t, int64(2), gjson.Get(out, "#").Int())
		var indices []string
		for _, index := range gjson.Get(out, "#.index").Array() {
			indices = append(indices, index.String())
		}
		assert.ElementsMatch(t, []string{"c_m_hive", "c_m_files"}, indices)
		assert.Equal(t, int64(400), gjson.Get(out, "0.status").Int())
	})

	t.Run("read back by run id", func(t *testing.T) {
		runID := strings.TrimSuffix(strings.TrimPrefix(entries[0].Name(), "failed_"), ".jsonl")
		out, _, err := run(t, fsys, "dlq", runID, "--limit", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "mapper_parsing_exception")
		assert.Equal(t, 1, strings.Count(out, "c_m_"))
	})
}

func TestDLQCommandErrors(t *testing.T) {
	_, _, err := run(t, afero.NewMemMapFs(), "dlq", "missing-run")
	assert.Error(t, err)

	_, _, err = run(t, afero.NewMemMapFs(), "dlq")
	assert.Error(t, err)
}

func TestRootLoadsConfig(t *testing.T) {
	_, _, err := run(t, afero.NewMemMapFs(), "--config", "/nowhere/config.yaml", "rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIngestErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		is   error
		msg  string
	}{
		{
			name: "missing timeline file",
			args: []string{"ingest", "--case-name", "c", "--machine-name", "m", "--timeline", "/nope.jsonl", "--dry-run"},
			is:   pipeline.ErrInputNotFound,
		},
		{
			name: "missing case name",
			args: []string{"ingest", "--machine-name", "m", "--timeline", "/t.jsonl", "--dry-run"},
			msg:  "case name and machine name are required",
		},
		{
			name: "invalid mode",
			args: []string{"ingest", "--case-name", "c", "--machine-name", "m", "--timeline", "/t.jsonl", "--mode", "batch"},
			msg:  "invalid bulk mode",
		},
		{
			name: "timeline flag required",
			args: []string{"ingest", "--case-name", "c", "--machine-name", "m"},
			msg:  "timeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, afero.NewMemMapFs(), tt.args...)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestRulesCommand(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		stdout, _, err := run(t, afero.NewMemMapFs(), "rules", "--output", "yaml")
		require.NoError(t, err)

		var rows []map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(stdout), &rows))
		require.Len(t, rows, 16)
		assert.Equal(t, "srum", rows[0]["category"])
		assert.Equal(t, "other", rows[15]["category"])
		assert.Equal(t, ".*", rows[15]["pattern"])
		assert.Equal(t, "hive", rows[3]["family"])
	})

	t.Run("classify parsers", func(t *testing.T) {
		stdout, _, err := run(t, afero.NewMemMapFs(), "rules", "-o", "json", "winreg/windows_run", "winevtx", "something/new")
		require.NoError(t, err)

		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
		require.Len(t, rows, 3)
		assert.Equal(t, "runkey", rows[0]["category"])
		assert.Equal(t, float64(4), rows[0]["order"])
		assert.Equal(t, "evtx", rows[1]["family"])
		assert.Equal(t, "other", rows[2]["category"])
		assert.Equal(t, "others", rows[2]["family"])
	})

	t.Run("table", func(t *testing.T) {
		stdout, _, err := run(t, afero.NewMemMapFs(), "rules")
		require.NoError(t, err)
		assert.Contains(t, stdout, "winreg/windows_run")
		assert.Contains(t, stdout, "CATEGORY")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := run(t, afero.NewMemMapFs(), "rules", "-o", "xml")
		assert.Error(t, err)
	})

	t.Run("evtx routing", func(t *testing.T) {
		stdout, _, err := run(t, afero.NewMemMapFs(), "rules", "--evtx", "-o", "json")
		require.NoError(t, err)
		assert.Equal(t, int64(10), gjson.Get(stdout, "#").Int())
		var bits []int64
		for _, id := range gjson.Get(stdout, `#(channel=="bits").event_ids`).Array() {
			bits = append(bits, id.Int())
		}
		assert.Equal(t, []int64{3, 4, 59, 60, 61}, bits)
		assert.Equal(t, int64(7045), gjson.Get(stdout, `#(channel=="system").event_ids.0`).Int())
	})

	t.Run("evtx routing table", func(t *testing.T) {
		stdout, _, err := run(t, afero.NewMemMapFs(), "rules", "--evtx")
		require.NoError(t, err)
		assert.Contains(t, stdout, "EVENT IDS")
		assert.Contains(t, stdout, "4624, 4625")
	})
}

func TestTemplatesDryRun(t *testing.T) {
	stdout, _, err := run(t, afero.NewMemMapFs(), "templates", "--case-name", "Case1", "--machine-name", "Host", "--dry-run")
	require.NoError(t, err)

	assert.Equal(t, "case1_host_evtx*", gjson.Get(stdout, "forensic_case1_host_evtx_template.index_patterns.0").String())
	assert.Equal(t, int64(400), gjson.Get(stdout, "forensic_case1_host_hive_template.priority").Int())
	assert.True(t, gjson.Get(stdout, "forensic_case1_host_others_template").Exists())
}
