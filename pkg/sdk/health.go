package docextract

import (
	"context"

	healthuc "github.com/kailas-cloud/docextract/internal/usecase/health"
)

// Health component names.
const (
	ComponentCache  = healthuc.ComponentCache
	ComponentVision = healthuc.ComponentVision
)

// HealthStatus is the aggregated health of the embedded pipeline.
// Status is "ok", "degraded" or "error"; Checks maps a component to "ok" or "error".
// The vision component is only present when a vision model is configured.
type HealthStatus struct {
	Status string
	Checks map[string]string
}

// Healthy reports whether every checked component answered.
func (h HealthStatus) Healthy() bool { return h.Status == string(healthuc.Healthy) }

// CanProcessScans reports whether image documents can currently be extracted.
func (h HealthStatus) CanProcessScans() bool { return h.Checks[ComponentVision] == string(healthuc.CheckOK) }

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Health checks the cache store and, when configured, the vision model.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	h := HealthStatus{Status: string(report.Status), Checks: make(map[string]string, len(report.Checks))}
	for component, result := range report.Checks {
		h.Checks[component] = string(result)
	}
	return h
}
