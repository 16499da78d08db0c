package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// FileQueue appends rejected documents to one NDJSON file per run.
type FileQueue struct {
	fs      afero.Fs
	path    string
	mu      sync.Mutex
	file    afero.File
	written uint64
}

// DefaultBasePath is the queue directory used when none is configured.
const DefaultBasePath = "dlq"

// RunFile returns the file a run's rejected documents are appended to.
func RunFile(basePath, runID string) string {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return filepath.Join(basePath, fmt.Sprintf("failed_%s.jsonl", runID))
}

// NewFileQueue creates the queue directory and opens the run's file.
func NewFileQueue(fsys afero.Fs, basePath, runID string) (*FileQueue, error) {
	path := RunFile(basePath, runID)
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dlq file: %w", err)
	}
	return &FileQueue{fs: fsys, path: path, file: f}, nil
}

// Path returns the file the queue writes to.
func (q *FileQueue) Path() string {
	return q.path
}

// Write implements Writer.
func (q *FileQueue) Write(_ context.Context, failed FailedDocument) error {
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
	data = append(data, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.file == nil {
		return fmt.Errorf("dlq file closed")
	}
	if _, err := q.file.Write(data); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	q.written++
	return nil
}

// Written returns the number of documents written by this queue.
func (q *FileQueue) Written() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// Stats describes what the queue wrote during this run.
func (q *FileQueue) Stats(context.Context) map[string]any {
	return map[string]any{
		"backend": "file",
		"path":    q.path,
		"written": q.Written(),
	}
}

// Read loads up to limit entries from a queue file. A non-positive limit
// returns everything. Lines that do not decode are skipped.
func Read(ctx context.Context, fsys afero.Fs, path string, limit int) ([]FailedDocument, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dlq file: %w", err)
	}
	defer f.Close()

	var docs []FailedDocument
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if limit > 0 && len(docs) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		var failed FailedDocument
		if err := json.Unmarshal(scanner.Bytes(), &failed); err != nil {
			continue
		}
		docs = append(docs, failed)
	}
	if err := scanner.Err(); err != nil {
		return docs, fmt.Errorf("read dlq file: %w", err)
	}
	return docs, nil
}

// Close implements Writer.
func (q *FileQueue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.file == nil {
		return nil
	}
	err := q.file.Close()
	q.file = nil
	return err
}
