package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

// DryRunWriter prints assignments as NDJSON instead of uploading them.
type DryRunWriter struct {
	out io.Writer
}

// NewDryRunWriter writes to out.
func NewDryRunWriter(out io.Writer) *DryRunWriter {
	return &DryRunWriter{out: out}
}

type dryRunLine struct {
	Index  string         `json:"_index"`
	Source model.Document `json:"_source"`
}

// Write implements Sink. Every written document counts as indexed.
func (d *DryRunWriter) Write(_ context.Context, assignments iter.Seq2[model.Assignment, error]) (Result, error) {
	bw := bufio.NewWriter(d.out)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	var res Result
	for a, err := range assignments {
		if err != nil {
			_ = bw.Flush()
			return res, err
		}
		if err := enc.Encode(dryRunLine{Index: a.Index, Source: a.Doc}); err != nil {
			res.Failed++
			continue
		}
		res.Indexed++
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("flush dry run output: %w", err)
	}
	return res, nil
}
