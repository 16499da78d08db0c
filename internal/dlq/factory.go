package dlq

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/metrics"
)

// New builds the writer selected by cfg. A disabled queue discards.
func New(ctx context.Context, cfg config.DLQConfig, fsys afero.Fs, runID string) (Writer, error) {
	if !cfg.Enabled {
		return Discard{}, nil
	}

	switch cfg.Backend {
	case config.DLQBackendFile, "":
		q, err := NewFileQueue(fsys, cfg.BasePath, runID)
		if err != nil {
			return nil, err
		}
		return Instrument(q, config.DLQBackendFile), nil
	case config.DLQBackendJetStream:
		q, err := DialJetStream(ctx, cfg.NatsURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		return Instrument(q, config.DLQBackendJetStream), nil
	default:
		return nil, fmt.Errorf("unknown dlq backend %q", cfg.Backend)
	}
}

type instrumented struct {
	Writer
	backend string
}

// Instrument counts writes per backend and status.
func Instrument(w Writer, backend string) Writer {
	return &instrumented{Writer: w, backend: backend}
}

func (i *instrumented) Write(ctx context.Context, failed FailedDocument) error {
	err := i.Writer.Write(ctx, failed)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.DLQWritesTotal.WithLabelValues(i.backend, status).Inc()
	return err
}
