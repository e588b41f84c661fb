package services

import (
	"context"

	"posvision/internal/detection"
)

// HealthChecker checks the detection service
type HealthChecker interface {
	Health(ctx context.Context) (*detection.HealthResponse, error)
}

// HealthService implements the liveness and readiness probes
type HealthService struct {
	checker HealthChecker
}

// NewHealthService creates a health service backed by checker
func NewHealthService(checker HealthChecker) *HealthService {
	return &HealthService{checker: checker}
}

// Healthz implements the liveness probe
func (h *HealthService) Healthz(ctx context.Context) error {
	return nil
}

// Readyz reports ready once the detection service answers its health check
func (h *HealthService) Readyz(ctx context.Context) error {
	if h.checker == nil {
		return nil
	}
	_, err := h.checker.Health(ctx)
	return err
}
