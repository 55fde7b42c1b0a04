package drawer

import (
	"drawer-hal/internal/devices"
	"drawer-hal/internal/diagnostics"
)

// SerialPortList is the answer to "list serial ports".
type SerialPortList struct {
	Available bool                     `json:"available"`
	Ports     []devices.SerialPortInfo `json:"ports"`
	Error     string                   `json:"error,omitempty"`
}

// ListSerialPorts enumerates serial devices, sorted by path. Available is
// false when the engine has no serial capability or enumeration failed.
func (e *Engine) ListSerialPorts() SerialPortList {
	if e.serial == nil {
		return SerialPortList{
			Available: false,
			Ports:     []devices.SerialPortInfo{},
			Error:     ErrSerialUnavailable.Error(),
		}
	}

	ports, err := e.serial.List()
	if err != nil {
		e.sink.Log(diagnostics.LevelWarn, "serial port enumeration failed", "error", err)
		return SerialPortList{
			Available: false,
			Ports:     []devices.SerialPortInfo{},
			Error:     err.Error(),
		}
	}
	if ports == nil {
		ports = []devices.SerialPortInfo{}
	}
	return SerialPortList{Available: true, Ports: ports}
}
