package output_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

func newPrinter() (*output.Printer, *bytes.Buffer, *bytes.Buffer) {
	color.NoColor = true
	var out, errOut bytes.Buffer
	return &output.Printer{Out: &out, Err: &errOut}, &out, &errOut
}

func TestPrinterMessages(t *testing.T) {
	tests := []struct {
		name   string
		print  func(p *output.Printer)
		stdout string
		stderr string
	}{
		{"success", func(p *output.Printer) { p.Success("Indexed %d documents", 5) }, "✓ Indexed 5 documents\n", ""},
		{"info", func(p *output.Printer) { p.Info("run %s", "abc") }, "run abc\n", ""},
		{"warn", func(p *output.Printer) { p.Warn("template %s failed", "hive") }, "⚠ template hive failed\n", ""},
		{"error", func(p *output.Printer) { p.Error("boom") }, "", "✗ boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, out, errOut := newPrinter()
			tt.print(p)
			assert.Equal(t, tt.stdout, out.String())
			assert.Equal(t, tt.stderr, errOut.String())
		})
	}
}

func TestPrinterEncoders(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		p, out, _ := newPrinter()
		require.NoError(t, p.JSON(map[string]int{"indexed": 3}))
		assert.JSONEq(t, `{"indexed":3}`, out.String())
	})

	t.Run("yaml", func(t *testing.T) {
		p, out, _ := newPrinter()
		require.NoError(t, p.YAML(map[string]int{"indexed": 3}))
		assert.Equal(t, "indexed: 3\n", out.String())
	})
}

func TestTable(t *testing.T) {
	color.NoColor = true
	table := output.NewTable([]string{"ORDER", "CATEGORY"})
	table.AddRow([]string{"1", "srum"})
	table.AddRow([]string{"16", "browser_history"})
	table.AddRow([]string{"17"})

	var buf bytes.Buffer
	table.Render(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "ORDER  CATEGORY         ", lines[0])
	assert.Equal(t, "-----  ---------------  ", lines[1])
	assert.Equal(t, "1      srum             ", lines[2])
	assert.Equal(t, "17                      ", lines[4])
}
