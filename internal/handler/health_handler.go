package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-autograder-api/internal/config"
	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthProbe checks one backing dependency such as the database or broker.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthCheck reports the service as healthy when every probe passes. A
// failing probe turns the answer into a 503 listing the broken dependency.
func HealthCheck(cfg config.Config, probes ...HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(probes) > 0 {
			resp.Dependencies = make(map[string]string, len(probes))
		}
		for _, probe := range probes {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthProbeTimeout)
			err := probe.Check(ctx)
			cancel()

			if err != nil {
				resp.Status = "degraded"
				resp.Dependencies[probe.Name] = err.Error()
				continue
			}
			resp.Dependencies[probe.Name] = "ok"
		}

		if resp.Status != "ok" {
			return utils.Fail(c, fiber.StatusServiceUnavailable, "service degraded", resp)
		}
		return utils.SendSuccess(c, "service healthy", resp)
	}
}
