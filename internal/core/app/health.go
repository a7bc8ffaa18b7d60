package app

import (
	"context"
	"fmt"
	"time"

	"omniworker/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	Runtime    util.RuntimeStats `json:"runtime"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
		Runtime:    util.ReadRuntimeStats(),
	}

	// Pool
	if p := s.app.Pool(); p == nil {
		status.Status = "degraded"
		status.Components["pool"] = "not started"
	} else if n, err := p.ReplicaCount(); err != nil {
		status.Status = "degraded"
		status.Components["pool"] = p.State().String()
	} else {
		status.Components["pool"] = fmt.Sprintf("ok (%d replicas)", n)
	}

	status.Components["launcher"] = s.app.launcher.Name()

	// Build ledger
	if s.app.ledger != nil {
		if err := s.app.ledger.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Components["ledger"] = "unreachable: " + err.Error()
		} else {
			status.Components["ledger"] = "ok"
		}
	} else if s.app.Config.DB.Enabled {
		status.Status = "degraded"
		status.Components["ledger"] = "missing but enabled in config"
	} else {
		status.Components["ledger"] = "disabled"
	}

	return status
}
