package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"lcpcli/internal/infrastructure"
)

// HealthResponse reports service liveness
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Render implements the render.Renderer interface
func (h *HealthResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

// HealthHandler answers liveness probes
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, &HealthResponse{
		Status:    "healthy",
		Service:   infrastructure.ServiceName,
		Version:   infrastructure.ServiceVersion,
		Timestamp: time.Now(),
	})
}
