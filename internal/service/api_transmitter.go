package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// TransmitterConfig configures the metadata API client.
type TransmitterConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// APITransmitter posts a job summary to the metadata API.
type APITransmitter struct {
	client   *resty.Client
	endpoint string
}

// NewAPITransmitter creates the api_transmission task.
// Parameters:
//   - cfg: endpoint, API key, request timeout and retry count.
//
// Returns:
//   - *APITransmitter: task posting job payloads with resty.
func NewAPITransmitter(cfg TransmitterConfig) *APITransmitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &APITransmitter{
		client:   client,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

// Run posts the job payload to the configured endpoint.
func (t *APITransmitter) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	if t.endpoint == "" {
		logger.CtxWarn(ctx, "no API endpoint configured, skipping transmission")
		return domain.JSONMap{
			"transmission_status": "skipped",
			"message":             "No API endpoint configured",
		}, nil
	}

	payload := map[string]interface{}{
		"job_id":           spec.JobID,
		"tenant_id":        spec.TenantID,
		"data_source_path": spec.DataSourcePath,
		"job_type":         string(spec.JobType),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	if wf := spec.WorkflowID(); wf != "" {
		payload["workflow_id"] = wf
	}

	var body map[string]interface{}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		Post(t.endpoint + "/api/metadata")
	if err != nil {
		return nil, fmt.Errorf("API transmission failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	logger.With(logger.Fields{logger.FieldStatus: resp.StatusCode()}).Info(ctx, "metadata transmitted to API")
	out := domain.JSONMap{
		"transmission_status": "success",
		"status_code":         resp.StatusCode(),
	}
	if body != nil {
		out["api_response"] = domain.JSONMap(body)
	}
	return out, nil
}
