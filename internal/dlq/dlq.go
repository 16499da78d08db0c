// Package dlq keeps documents the search backend rejected so they can be
// inspected and replayed.
package dlq

import (
	"context"
	"encoding/json"
	"time"
)

// FailedDocument is one rejected document together with the rejection.
type FailedDocument struct {
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id"`
	Index     string          `json:"index"`
	Document  json.RawMessage `json:"document"`
	Error     string          `json:"error"`
	Reason    string          `json:"reason"`
	Status    int             `json:"status,omitempty"`
}

// Writer accepts rejected documents.
type Writer interface {
	Write(ctx context.Context, failed FailedDocument) error
	Close() error
}

// Discard drops every document. It is used when the dead letter queue is
// disabled.
type Discard struct{}

// Write implements Writer.
func (Discard) Write(context.Context, FailedDocument) error { return nil }

// Close implements Writer.
func (Discard) Close() error { return nil }

// Reporter is implemented by queues that can describe their state.
type Reporter interface {
	Stats(ctx context.Context) map[string]any
}

// Report returns the stats of w, looking through Instrument. It returns nil
// when w keeps nothing worth reporting.
func Report(ctx context.Context, w Writer) map[string]any {
	if i, ok := w.(*instrumented); ok {
		w = i.Writer
	}
	if r, ok := w.(Reporter); ok {
		return r.Stats(ctx)
	}
	return nil
}
