package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
	"github.com/telhawk-systems/telhawk-forensics/internal/metrics"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

// TemplateManager provisions one composable index template per family.
type TemplateManager struct {
	client *opensearch.Client
	cfg    config.TemplatesConfig
	logger *logging.Logger
}

// NewTemplateManager creates a manager. A nil logger uses the default.
func NewTemplateManager(client *opensearch.Client, cfg config.TemplatesConfig, logger *logging.Logger) *TemplateManager {
	if logger == nil {
		logger = logging.Default()
	}
	return &TemplateManager{client: client, cfg: cfg, logger: logger}
}

// TemplateName returns the template name for a family under prefix. Each
// case and machine gets its own set so provisioning one never replaces
// another's.
func TemplateName(prefix string, family model.Family) string {
	return fmt.Sprintf("forensic_%s_%s_template", prefix, family)
}

// Template builds the template body for prefix and family.
func (m *TemplateManager) Template(prefix string, family model.Family) map[string]any {
	return map[string]any{
		"index_patterns": []string{fmt.Sprintf("%s_%s*", prefix, family)},
		"template": map[string]any{
			"settings": map[string]any{
				"index.mapping.total_fields.limit": m.cfg.TotalFieldsLimit,
			},
			"mappings": forensicMappings(),
		},
		"priority": m.cfg.Priority,
	}
}

func forensicMappings() map[string]any {
	return map[string]any{
		"dynamic": true,
		"dynamic_templates": []map[string]any{
			{
				"strings_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"keyword": map[string]any{
								"type":         "keyword",
								"ignore_above": 256,
							},
						},
					},
				},
			},
		},
		"properties": map[string]any{
			model.FieldCanonicalTimestamp: map[string]any{
				"type":   "date",
				"format": "strict_date_optional_time||epoch_millis",
			},
			"message": map[string]any{
				"type": "text",
			},
			"parser": map[string]any{
				"type": "keyword",
			},
			"data_type": map[string]any{
				"type": "keyword",
			},
			// Raw payloads are kept for display only
			"Data_json_string": map[string]any{
				"type":  "text",
				"index": false,
			},
			"event_raw_string": map[string]any{
				"type":  "text",
				"index": false,
			},
		},
	}
}

// Ensure puts the template of every family. Failures are logged and
// returned but callers treat them as warnings.
func (m *TemplateManager) Ensure(ctx context.Context, prefix string) []error {
	var errs []error
	for _, family := range model.Families {
		if err := m.put(ctx, prefix, family); err != nil {
			metrics.TemplatesTotal.WithLabelValues(metrics.StatusFailed).Inc()
			m.logger.WarnContext(ctx, "index template not provisioned",
				logging.Index(TemplateName(prefix, family)), logging.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.TemplatesTotal.WithLabelValues(metrics.StatusOK).Inc()
		m.logger.DebugContext(ctx, "index template provisioned", logging.Index(TemplateName(prefix, family)))
	}
	return errs
}

func (m *TemplateManager) put(ctx context.Context, prefix string, family model.Family) error {
	body, err := json.Marshal(m.Template(prefix, family))
	if err != nil {
		return err
	}

	name := TemplateName(prefix, family)
	res, err := m.client.Indices.PutIndexTemplate(
		name,
		bytes.NewReader(body),
		m.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("put index template %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template %s: %s - %s", name, res.Status(), string(bodyBytes))
	}
	return nil
}
