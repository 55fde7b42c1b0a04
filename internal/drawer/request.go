package drawer

import (
	"bytes"
	"fmt"
	"strconv"
)

// DefaultPort is the raw-print port used by networked receipt printers.
const DefaultPort = 9100

// NetworkMode selects between the network and serial paths.
type NetworkMode int

const (
	ModeUnset NetworkMode = iota
	ModeSerial
	ModeNetwork
	ModeAuto
)

func (m NetworkMode) String() string {
	switch m {
	case ModeSerial:
		return "serial"
	case ModeNetwork:
		return "network"
	case ModeAuto:
		return "auto"
	default:
		return "unset"
	}
}

// IsNetwork reports whether the network path was requested.
func (m NetworkMode) IsNetwork() bool {
	return m == ModeNetwork || m == ModeAuto
}

// UnmarshalJSON accepts true, false, "auto" and null.
func (m *NetworkMode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", `""`:
		*m = ModeUnset
	case "true", `"true"`, `"network"`:
		*m = ModeNetwork
	case "false", `"false"`, `"serial"`:
		*m = ModeSerial
	case `"auto"`:
		*m = ModeAuto
	default:
		return fmt.Errorf("invalid networkMode %s (want true, false or \"auto\")", data)
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (m NetworkMode) MarshalJSON() ([]byte, error) {
	switch m {
	case ModeSerial:
		return []byte("false"), nil
	case ModeNetwork:
		return []byte("true"), nil
	case ModeAuto:
		return []byte(`"auto"`), nil
	default:
		return []byte("null"), nil
	}
}

// ParseNetworkMode parses the textual forms used by the CLI.
func ParseNetworkMode(s string) (NetworkMode, error) {
	var m NetworkMode
	if s == "" {
		return ModeUnset, nil
	}
	if err := m.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
		return ModeUnset, err
	}
	return m, nil
}

// Request asks the engine to open the drawer.
type Request struct {
	IPAddress string      `json:"ipAddress,omitempty"`
	Port      int         `json:"port,omitempty"`
	Mode      NetworkMode `json:"networkMode,omitempty"`
	PortPath  string      `json:"portPath,omitempty"`
}

// Transport identifies which path produced a result.
type Transport string

const (
	TransportNetwork Transport = "network"
	TransportSerial  Transport = "serial"
)

// Result is the only thing the engine ever hands back to a caller.
//
// Success implies exactly one transport's fields are set (Address for
// network, Port and BaudRate for serial) and CommandUsed is the 1-based index
// of the frame that was delivered.
type Result struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Type        Transport `json:"type"`
	Address     string    `json:"address,omitempty"`
	Port        string    `json:"port,omitempty"`
	BaudRate    int       `json:"baudRate,omitempty"`
	CommandUsed int       `json:"commandUsed,omitempty"`
	LogFile     string    `json:"logFile"`

	// Kind classifies a failure. Not part of the wire format.
	Kind Kind `json:"-"`
}
