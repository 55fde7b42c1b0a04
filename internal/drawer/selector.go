package drawer

import (
	"fmt"
	"strings"

	"drawer-hal/internal/devices"
)

// Conventional serial device names, per platform, in preference order.
var (
	windowsPortNames = func() []string {
		names := make([]string, 0, 9)
		for i := 1; i <= 9; i++ {
			names = append(names, fmt.Sprintf("COM%d", i))
		}
		return names
	}()

	unixPortPrefixes = map[string][]string{
		"linux":  {"/dev/ttyUSB", "/dev/ttyACM", "/dev/ttyS"},
		"darwin": {"/dev/cu.usbserial", "/dev/tty.usbserial", "/dev/cu.usbmodem"},
	}
)

// SelectionError explains why no device could be chosen.
type SelectionError struct {
	Requested string
	Available []string
}

func (e *SelectionError) Error() string {
	if e.Requested == "" {
		return ErrNoSerialPorts.Error()
	}
	if len(e.Available) == 0 {
		return fmt.Sprintf("serial port %s not found; no serial ports available", e.Requested)
	}
	return fmt.Sprintf("serial port %s not found; available ports: %s",
		e.Requested, strings.Join(e.Available, ", "))
}

func (e *SelectionError) Unwrap() error {
	if len(e.Available) == 0 {
		return ErrNoSerialPorts
	}
	return nil
}

// selectSerialPort picks the device to try first: the explicit request
// (case-insensitive), else the platform's conventional names, else the
// first enumerated device.
func selectSerialPort(ports []devices.SerialPortInfo, requested, goos string) (string, error) {
	paths := make([]string, len(ports))
	for i, p := range ports {
		paths[i] = p.Path
	}

	if requested != "" {
		for _, p := range paths {
			if strings.EqualFold(p, requested) {
				return p, nil
			}
		}
		return "", &SelectionError{Requested: requested, Available: paths}
	}

	if len(paths) == 0 {
		return "", &SelectionError{}
	}

	if goos == "windows" {
		for _, name := range windowsPortNames {
			for _, p := range paths {
				if strings.EqualFold(p, name) {
					return p, nil
				}
			}
		}
	}
	for _, prefix := range unixPortPrefixes[goos] {
		for _, p := range paths {
			if strings.HasPrefix(p, prefix) {
				return p, nil
			}
		}
	}
	return paths[0], nil
}

// serialTryOrder returns selected first, then every other enumerated device
// unless the caller pinned an explicit path.
func serialTryOrder(ports []devices.SerialPortInfo, selected string, explicit bool) []string {
	if explicit {
		return []string{selected}
	}
	order := []string{selected}
	for _, p := range ports {
		if p.Path != selected {
			order = append(order, p.Path)
		}
	}
	return order
}
