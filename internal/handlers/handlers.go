package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"drawer-hal/internal/diagnostics"
	"drawer-hal/internal/drawer"
)

// DefaultUnit is the systemd unit drawer-hal runs as.
const DefaultUnit = "drawer-hal.service"

// DrawerHandler handles all drawer-hal endpoints
type DrawerHandler struct {
	engine  *drawer.Engine
	sink    *diagnostics.Sink
	log     *zap.SugaredLogger
	unit    string
	started time.Time
}

// NewDrawerHandler creates a new drawer handler
func NewDrawerHandler(engine *drawer.Engine, sink *diagnostics.Sink, log *zap.SugaredLogger) *DrawerHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DrawerHandler{
		engine:  engine,
		sink:    sink,
		log:     log,
		unit:    DefaultUnit,
		started: time.Now(),
	}
}

// ErrorResponse is the body of every non-2xx reply.
// @Description Error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid serial port"`
	Code  int    `json:"code" example:"400"`
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message, Code: status})
}
