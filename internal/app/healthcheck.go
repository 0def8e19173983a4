package app

import (
	"context"
	"net/http"
	"time"

	"github.com/metinatakli/ride-checkout/internal/vcs"
)

type systemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type healthcheckResponse struct {
	Status          string     `json:"status"`
	SystemInfo      systemInfo `json:"systemInfo"`
	OpenCheckouts   int        `json:"openCheckouts"`
	PaymentsEnabled bool       `json:"paymentsEnabled"`
}

// GetHealth reports DEGRADED when Redis, which backs browser sessions and the ride rooms, does
// not answer a ping.
func (app *application) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "UP"

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	err := app.redis.Ping(ctx).Err()
	if err != nil {
		app.logger.Warn("redis ping failed", "error", err)
		status = "DEGRADED"
	}

	resp := healthcheckResponse{
		Status: status,
		SystemInfo: systemInfo{
			Version:     vcs.Version(),
			Environment: app.config.env,
		},
		OpenCheckouts:   app.checkouts.len(),
		PaymentsEnabled: app.widget.Ready(),
	}

	app.writeJSON(w, http.StatusOK, resp, nil)
}
