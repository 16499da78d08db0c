package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/dlq"
	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
	"github.com/telhawk-systems/telhawk-forensics/internal/metrics"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

// Result summarises one upload.
type Result struct {
	Indexed    uint64 `json:"indexed" yaml:"indexed"`
	Failed     uint64 `json:"failed" yaml:"failed"`
	DeadLetter uint64 `json:"dead_letter" yaml:"dead_letter"`
	Requests   uint64 `json:"requests" yaml:"requests"`
}

// Sink consumes a stream of assignments.
type Sink interface {
	Write(ctx context.Context, assignments iter.Seq2[model.Assignment, error]) (Result, error)
}

// BulkWriter uploads assignments through the OpenSearch bulk API.
type BulkWriter struct {
	client *opensearch.Client
	cfg    config.BulkConfig
	dlq    dlq.Writer
	logger *logging.Logger
	runID  string

	indexed    atomic.Uint64
	failed     atomic.Uint64
	deadLetter atomic.Uint64
}

// BulkOption configures a BulkWriter.
type BulkOption func(*BulkWriter)

// WithDeadLetter forwards rejected documents to w.
func WithDeadLetter(w dlq.Writer) BulkOption {
	return func(b *BulkWriter) {
		if w != nil {
			b.dlq = w
		}
	}
}

// WithBulkLogger sets the logger.
func WithBulkLogger(l *logging.Logger) BulkOption {
	return func(b *BulkWriter) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRunID tags dead letters with the run identifier.
func WithRunID(id string) BulkOption {
	return func(b *BulkWriter) {
		b.runID = id
	}
}

// NewBulkWriter creates a writer over client.
func NewBulkWriter(client *opensearch.Client, cfg config.BulkConfig, opts ...BulkOption) *BulkWriter {
	w := &BulkWriter{
		client: client,
		cfg:    cfg,
		dlq:    dlq.Discard{},
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write drains assignments into the bulk indexer and waits for every flush.
// A sequence error stops intake; documents already added are still flushed.
func (w *BulkWriter) Write(ctx context.Context, assignments iter.Seq2[model.Assignment, error]) (Result, error) {
	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        w.client,
		NumWorkers:    w.cfg.EffectiveWorkers(),
		FlushBytes:    w.cfg.FlushBytes,
		FlushInterval: w.cfg.FlushInterval,
		OnError: func(ctx context.Context, err error) {
			w.logger.ErrorContext(ctx, "bulk request failed", logging.Error(err))
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var seqErr error
	for a, err := range assignments {
		if err != nil {
			seqErr = err
			break
		}
		if err := w.add(ctx, bi, a); err != nil {
			seqErr = err
			break
		}
	}

	closeCtx := context.WithoutCancel(ctx)
	if err := bi.Close(closeCtx); err != nil && seqErr == nil {
		seqErr = fmt.Errorf("bulk indexer close: %w", err)
	}

	res := w.result()
	res.Requests = bi.Stats().NumRequests
	return res, seqErr
}

func (w *BulkWriter) add(ctx context.Context, bi opensearchutil.BulkIndexer, a model.Assignment) error {
	data, err := json.Marshal(a.Doc)
	if err != nil {
		w.fail(ctx, a.Index, nil, fmt.Sprintf("marshal document: %v", err), "marshal", 0)
		return nil
	}

	err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
		Action: "index",
		Index:  a.Index,
		Body:   bytes.NewReader(data),
		OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
			w.indexed.Add(1)
			metrics.BulkDocumentsTotal.WithLabelValues(item.Index, metrics.StatusIndexed).Inc()
		},
		OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
			if err != nil {
				w.fail(ctx, item.Index, data, err.Error(), "transport", res.Status)
				return
			}
			w.fail(ctx, item.Index, data, res.Error.Type, res.Error.Reason, res.Status)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("add to bulk indexer: %w", err)
		}
		w.fail(ctx, a.Index, data, err.Error(), "add", 0)
	}
	return nil
}

func (w *BulkWriter) fail(ctx context.Context, index string, data []byte, errType, reason string, status int) {
	w.failed.Add(1)
	metrics.BulkDocumentsTotal.WithLabelValues(index, metrics.StatusFailed).Inc()
	w.logger.WarnContext(ctx, "document rejected",
		logging.Index(index),
		slog.String("error_type", errType),
		slog.String("reason", reason),
		slog.Int("status", status),
	)

	failed := dlq.FailedDocument{
		Timestamp: time.Now().UTC(),
		RunID:     w.runID,
		Index:     index,
		Document:  json.RawMessage(data),
		Error:     errType,
		Reason:    reason,
		Status:    status,
	}
	if data == nil {
		failed.Document = nil
	}
	if err := w.dlq.Write(context.WithoutCancel(ctx), failed); err != nil {
		w.logger.ErrorContext(ctx, "dead letter write failed", logging.Index(index), logging.Error(err))
		return
	}
	if _, discard := w.dlq.(dlq.Discard); !discard {
		w.deadLetter.Add(1)
	}
}

func (w *BulkWriter) result() Result {
	return Result{
		Indexed:    w.indexed.Load(),
		Failed:     w.failed.Load(),
		DeadLetter: w.deadLetter.Load(),
	}
}
