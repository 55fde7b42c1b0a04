package handlers

import (
	"net/http"
)

// ============================================================================
// Log Types
// ============================================================================

// LogsResponse represents log output.
// @Description Diagnostics log entries
type LogsResponse struct {
	File  string   `json:"file" example:"/var/log/drawer-hal/drawer-2026-01-31.log"`
	Lines []string `json:"lines"`
	Count int      `json:"count" example:"100"`
}

// ============================================================================
// Log Handlers
// ============================================================================

// GetDrawerLogs returns the tail of today's diagnostics file.
// @Summary Get drawer diagnostics
// @Description Returns the last lines of today's drawer activation log
// @Tags Logs
// @Produce json
// @Param lines query int false "Number of lines" default(100)
// @Success 200 {object} LogsResponse
// @Failure 500 {object} ErrorResponse
// @Router /logs/drawer [get]
func (h *DrawerHandler) GetDrawerLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := h.sink.Tail(parseLines(r))
	if err != nil {
		h.log.Warnw("GetDrawerLogs: tail failed", "file", h.sink.Path(), "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to read drawer log")
		return
	}

	jsonResponse(w, http.StatusOK, LogsResponse{
		File:  h.sink.Path(),
		Lines: lines,
		Count: len(lines),
	})
}
