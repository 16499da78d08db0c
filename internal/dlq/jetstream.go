package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream holding rejected documents.
const StreamName = "FORENSICS_DLQ"

// Publisher is the part of jetstream.JetStream the queue needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamQueue publishes rejected documents to NATS JetStream so failures
// from several hosts end up in one place.
type JetStreamQueue struct {
	pub           Publisher
	stream        jetstream.Stream
	conn          *nats.Conn
	subjectPrefix string
	written       atomic.Uint64
}

// NewJetStreamQueue creates a queue over an existing publisher.
func NewJetStreamQueue(pub Publisher, subjectPrefix string) (*JetStreamQueue, error) {
	if pub == nil {
		return nil, fmt.Errorf("jetstream publisher is nil")
	}
	if subjectPrefix == "" {
		subjectPrefix = "forensics.dlq"
	}
	return &JetStreamQueue{pub: pub, subjectPrefix: subjectPrefix}, nil
}

// DialJetStream connects to NATS and makes sure the DLQ stream exists.
func DialJetStream(ctx context.Context, url, subjectPrefix string) (*JetStreamQueue, error) {
	nc, err := nats.Connect(url,
		nats.Name("thawk-forensics"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	q, err := NewJetStreamQueue(js, subjectPrefix)
	if err != nil {
		nc.Close()
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{q.subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	q.stream = stream
	q.conn = nc
	return q, nil
}

// Subject returns the subject a document for index is published on.
func (q *JetStreamQueue) Subject(index string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, index)
	if token == "" {
		token = "unknown"
	}
	return q.subjectPrefix + "." + token
}

// Write implements Writer.
func (q *JetStreamQueue) Write(ctx context.Context, failed FailedDocument) error {
	if q == nil {
		return nil
	}
	if failed.Timestamp.IsZero() {
		failed.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if _, err := q.pub.Publish(ctx, q.Subject(failed.Index), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}
	q.written.Add(1)
	return nil
}

// Written returns the number of documents published by this queue.
func (q *JetStreamQueue) Written() uint64 {
	return q.written.Load()
}

// Stats returns stream state when the queue owns a stream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"backend":       "jetstream",
		"written_local": q.Written(),
	}
	if q.stream == nil {
		return stats
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	return stats
}

// Close drains the NATS connection opened by DialJetStream.
func (q *JetStreamQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
