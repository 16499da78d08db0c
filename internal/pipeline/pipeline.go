package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
	"github.com/telhawk-systems/telhawk-forensics/internal/metrics"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
)

// ErrInputNotFound is returned when the timeline file does not exist.
var ErrInputNotFound = errors.New("timeline input not found")

const defaultProgressEvery = 10000

// Open opens a timeline for reading.
func Open(fsys afero.Fs, path string) (afero.File, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("open timeline %s: %w", path, err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open timeline %s: is a directory", path)
	}
	return f, nil
}

// Pipeline turns timeline lines into index assignments, one record at a
// time and in input order.
type Pipeline struct {
	registry      *normalizer.Registry
	prefix        string
	logger        *logging.Logger
	progressEvery uint64

	lines     atomic.Uint64
	blank     atomic.Uint64
	malformed atomic.Uint64
	processed atomic.Uint64
	documents atomic.Uint64
	errorDocs atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgressEvery logs progress each n processed records. Zero disables
// progress logging.
func WithProgressEvery(n uint64) Option {
	return func(p *Pipeline) { p.progressEvery = n }
}

// New creates a pipeline writing to indices prefixed by prefix, see
// model.IndexPrefix.
func New(registry *normalizer.Registry, prefix string, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:      registry,
		prefix:        prefix,
		logger:        logging.Default(),
		progressEvery: defaultProgressEvery,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assignments lazily reads r and yields one assignment per produced
// document. Unparseable lines are logged and skipped. A read failure or a
// cancelled context ends the sequence with a non-nil error.
func (p *Pipeline) Assignments(ctx context.Context, r io.Reader) iter.Seq2[model.Assignment, error] {
	return func(yield func(model.Assignment, error) bool) {
		reader := bufio.NewReaderSize(r, 1<<20)
		lineNo := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(model.Assignment{}, err)
				return
			}

			line, readErr := reader.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++
				if !p.processLine(ctx, line, lineNo, yield) {
					return
				}
			}
			if readErr == io.EOF {
				return
			}
			if readErr != nil {
				yield(model.Assignment{}, fmt.Errorf("read timeline line %d: %w", lineNo+1, readErr))
				return
			}
		}
	}
}

// processLine handles one line and reports whether the consumer wants more.
func (p *Pipeline) processLine(ctx context.Context, line []byte, lineNo int, yield func(model.Assignment, error) bool) bool {
	p.lines.Add(1)
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		p.blank.Add(1)
		metrics.LinesTotal.WithLabelValues(metrics.StatusBlank).Inc()
		return true
	}

	ev, err := model.DecodeRawEvent(line, lineNo)
	if err != nil {
		p.malformed.Add(1)
		metrics.LinesTotal.WithLabelValues(metrics.StatusMalformed).Inc()
		p.logger.WarnContext(ctx, "skipping malformed timeline line", logging.Line(lineNo), logging.Error(err))
		return true
	}

	processed := p.processed.Add(1)
	metrics.LinesTotal.WithLabelValues(metrics.StatusProcessed).Inc()
	if p.progressEvery > 0 && processed%p.progressEvery == 0 {
		p.logger.InfoContext(ctx, "timeline progress",
			logging.Count(processed),
			logging.Line(lineNo),
		)
	}

	start := time.Now()
	_, result := p.registry.Transform(ev)
	for out := range result.All() {
		p.documents.Add(1)
		outcome := metrics.OutcomeDocument
		if msg, failed := out.Doc[normalizer.FieldProcessingError]; failed {
			outcome = metrics.OutcomeError
			p.errorDocs.Add(1)
			p.logger.WarnContext(ctx, "record transformation failed",
				logging.Line(lineNo),
				logging.Category(string(out.Category)),
				"processing_error", msg,
			)
		}
		metrics.DocumentsTotal.WithLabelValues(string(out.Category), outcome).Inc()

		assignment := model.Assignment{
			Index:    model.IndexName(p.prefix, out.Category),
			Category: out.Category,
			Doc:      out.Doc,
		}
		if !yield(assignment, nil) {
			return false
		}
	}
	metrics.RecordDuration.Observe(time.Since(start).Seconds())
	return true
}

// Stats is a snapshot of the run counters.
type Stats struct {
	Lines          uint64 `json:"lines" yaml:"lines"`
	Blank          uint64 `json:"blank" yaml:"blank"`
	Malformed      uint64 `json:"malformed" yaml:"malformed"`
	Processed      uint64 `json:"processed" yaml:"processed"`
	Documents      uint64 `json:"documents" yaml:"documents"`
	ErrorDocuments uint64 `json:"error_documents" yaml:"error_documents"`
}

// Stats returns the counters accumulated so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Lines:          p.lines.Load(),
		Blank:          p.blank.Load(),
		Malformed:      p.malformed.Load(),
		Processed:      p.processed.Load(),
		Documents:      p.documents.Load(),
		ErrorDocuments: p.errorDocs.Load(),
	}
}
