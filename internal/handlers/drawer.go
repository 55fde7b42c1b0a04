package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"drawer-hal/internal/drawer"
)

const maxOpenBody = 64 << 10

// ============================================================================
// Drawer Handlers
// ============================================================================

// OpenTill opens the cash drawer.
// @Summary Open cash drawer
// @Description Delivers an ESC/POS drawer-kick to a network printer or serial device. An empty body uses the serial path.
// @Tags Drawer
// @Accept json
// @Produce json
// @Param request body drawer.Request false "Target selection"
// @Success 200 {object} drawer.Result
// @Failure 400 {object} drawer.Result
// @Failure 502 {object} drawer.Result
// @Router /drawer/open [post]
func (h *DrawerHandler) OpenTill(w http.ResponseWriter, r *http.Request) {
	r = limitBody(r, maxOpenBody)

	var req drawer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PortPath != "" {
		if err := validateSerialPort(req.PortPath); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Port != 0 {
		if err := validatePort(req.Port); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.IPAddress != "" {
		if err := validateIPAddress(req.IPAddress); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res := h.engine.Open(r.Context(), req)
	jsonResponse(w, statusFor(res), res)
}

// statusFor maps an engine result onto an HTTP status. The body is always the
// full result.
func statusFor(res drawer.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Kind == drawer.KindConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// ListSerialPorts returns the enumerated serial devices.
// @Summary List serial ports
// @Description Returns serial devices sorted by path. available is false when serial access is missing or enumeration failed.
// @Tags Drawer
// @Produce json
// @Success 200 {object} drawer.SerialPortList
// @Router /drawer/serial/ports [get]
func (h *DrawerHandler) ListSerialPorts(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.engine.ListSerialPorts())
}

// ScanNetwork probes the discovery candidate list.
// @Summary Scan for network printers
// @Description Probes the bounded candidate list on every probe port and returns all responders. Never opens a drawer.
// @Tags Drawer
// @Produce json
// @Success 200 {object} drawer.ScanResult
// @Router /drawer/network/scan [get]
func (h *DrawerHandler) ScanNetwork(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.engine.Scan(r.Context()))
}
