package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ============================================================================
// System Types
// ============================================================================

// HealthResponse represents service liveness.
// @Description Service health
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Service string `json:"service" example:"drawer-hal"`
	Uptime  string `json:"uptime" example:"3h2m1s"`
	LogFile string `json:"log_file" example:"/var/log/drawer-hal/drawer-2026-01-31.log"`
}

// ServiceStatus represents a systemd service status.
// @Description Systemd service status
type ServiceStatus struct {
	Name        string `json:"name" example:"drawer-hal.service"`
	Active      bool   `json:"active" example:"true"`
	Running     bool   `json:"running" example:"true"`
	Description string `json:"description,omitempty"`
	LoadState   string `json:"load_state" example:"loaded"`
	ActiveState string `json:"active_state" example:"active"`
	SubState    string `json:"sub_state" example:"running"`
	MainPID     int    `json:"main_pid,omitempty" example:"1234"`
}

// ============================================================================
// System Handlers
// ============================================================================

// HealthCheck reports liveness.
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *DrawerHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "drawer-hal",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		LogFile: h.sink.Path(),
	})
}

// ServiceStatus returns the status of the drawer-hal systemd unit.
// @Summary Get service status
// @Description Returns the systemd state of the drawer-hal unit
// @Tags System
// @Produce json
// @Success 200 {object} ServiceStatus
// @Failure 503 {object} ErrorResponse
// @Router /system/service [get]
func (h *DrawerHandler) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		h.log.Warnw("ServiceStatus: dbus connection failed", "error", err)
		errorResponse(w, http.StatusServiceUnavailable, "failed to connect to system manager")
		return
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, h.unit)
	if err != nil {
		h.log.Warnw("ServiceStatus: GetUnitProperties failed", "unit", h.unit, "error", err)
		errorResponse(w, http.StatusServiceUnavailable, "failed to get service status")
		return
	}

	jsonResponse(w, http.StatusOK, unitStatus(h.unit, props))
}

func unitStatus(name string, props map[string]interface{}) ServiceStatus {
	status := ServiceStatus{Name: name}
	if v, ok := props["ActiveState"].(string); ok {
		status.ActiveState = v
		status.Active = v == "active"
	}
	if v, ok := props["SubState"].(string); ok {
		status.SubState = v
		status.Running = v == "running"
	}
	if v, ok := props["LoadState"].(string); ok {
		status.LoadState = v
	}
	if v, ok := props["Description"].(string); ok {
		status.Description = v
	}
	if v, ok := props["MainPID"].(uint32); ok {
		status.MainPID = int(v)
	}
	return status
}
