// Package storage ships documents to OpenSearch and provisions the index
// templates they land in.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
)

// NewClient creates an OpenSearch client with retry and backoff configured.
func NewClient(cfg config.OpenSearchConfig) (*opensearch.Client, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("no opensearch urls configured")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	osCfg := opensearch.Config{
		Addresses:            cfg.URLs,
		Username:             cfg.Username,
		Password:             cfg.Password,
		Transport:            transport,
		MaxRetries:           cfg.MaxRetries,
		RetryOnStatus:        []int{429, 502, 503, 504},
		EnableRetryOnTimeout: cfg.RetryOnTimeout,
		RetryBackoff:         Backoff(cfg.RetryBackoffBase, cfg.RetryBackoffMax),
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

// Backoff returns an exponential backoff capped at ceiling. Attempts start
// at 1.
func Backoff(base, ceiling time.Duration) func(int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if ceiling < base {
		ceiling = base
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := float64(base) * math.Pow(2, float64(attempt-1))
		if d > float64(ceiling) {
			return ceiling
		}
		return time.Duration(d)
	}
}

// Ping verifies the cluster answers.
func Ping(ctx context.Context, client *opensearch.Client) error {
	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("opensearch returned error: %s - %s", res.Status(), string(body))
	}
	return nil
}
