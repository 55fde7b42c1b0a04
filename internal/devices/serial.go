package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// BaudRates is the fixed order in which transmission rates are tried.
var BaudRates = []int{9600, 19200, 115200, 38400, 57600}

// SerialPortInfo describes one enumerated serial device.
type SerialPortInfo struct {
	Path         string `json:"path" example:"/dev/ttyUSB0"`
	Manufacturer string `json:"manufacturer,omitempty" example:"Prolific Technology Inc."`
	VendorID     string `json:"vendorId,omitempty" example:"067b"`
	ProductID    string `json:"productId,omitempty" example:"2303"`
	Product      string `json:"product,omitempty" example:"USB-Serial Controller"`
	SerialNumber string `json:"serialNumber,omitempty"`
	IsUSB        bool   `json:"isUsb"`
}

// SerialPort is an open serial handle.
type SerialPort interface {
	Write(p []byte) (int, error)
	// Drain blocks until everything written has been transmitted.
	Drain() error
	Close() error
}

// SerialAccess enumerates and opens serial devices.
type SerialAccess interface {
	List() ([]SerialPortInfo, error)
	Open(path string, baud int) (SerialPort, error)
}

// SerialPorts is the go.bug.st/serial backed SerialAccess.
type SerialPorts struct {
	sysfsRoot string
}

// NewSerialPorts creates the host serial capability.
func NewSerialPorts() *SerialPorts {
	return &SerialPorts{sysfsRoot: "/sys/class/tty"}
}

// List returns every serial device on the host, sorted by path.
func (s *SerialPorts) List() ([]SerialPortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// The detailed enumerator is unsupported on some platforms; fall
		// back to plain names.
		names, nerr := serial.GetPortsList()
		if nerr != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		ports := make([]SerialPortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, SerialPortInfo{Path: name})
		}
		return sortPorts(ports), nil
	}

	ports := make([]SerialPortInfo, 0, len(details))
	for _, d := range details {
		info := SerialPortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			VendorID:     strings.ToLower(d.VID),
			ProductID:    strings.ToLower(d.PID),
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
		}
		if d.IsUSB {
			info.Manufacturer = s.usbAttribute(d.Name, "manufacturer")
		}
		ports = append(ports, info)
	}
	return sortPorts(ports), nil
}

// Open opens a device at the given rate, 8N1.
func (s *SerialPorts) Open(path string, baud int) (SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %d baud: %w", path, baud, err)
	}
	return port, nil
}

// usbAttribute reads a USB descriptor string for a tty from sysfs.
// Best effort; empty on other platforms.
func (s *SerialPorts) usbAttribute(port, attr string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	devName := filepath.Base(port)
	sysPath, err := filepath.EvalSymlinks(filepath.Join(s.sysfsRoot, devName, "device"))
	if err != nil {
		return ""
	}

	// ttyUSB sits one level below the USB device, ttyACM on the interface.
	for _, rel := range []string{"..", "../.."} {
		data, err := os.ReadFile(filepath.Join(sysPath, rel, attr))
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func sortPorts(ports []SerialPortInfo) []SerialPortInfo {
	sort.SliceStable(ports, func(i, j int) bool {
		return ports[i].Path < ports[j].Path
	})
	return ports
}
