package drawer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawer-hal/internal/devices"
)

var firstFrame = []byte{0x1B, 0x70, 0x00, 0x19, 0xFA}

func TestOpenExplicitAddress(t *testing.T) {
	p := startPrinter(t)
	network := newFakeNetwork().route("10.0.0.5:9100", p)
	serial := &fakeSerial{ports: ports("/dev/ttyUSB0")}
	e := newTestEngine(t, WithDialer(network), WithSerial(serial))

	res := e.Open(context.Background(), Request{IPAddress: "10.0.0.5"})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, TransportNetwork, res.Type)
	assert.Equal(t, "10.0.0.5:9100", res.Address)
	assert.Equal(t, 1, res.CommandUsed)
	assert.Empty(t, res.Port)
	assert.Zero(t, res.BaudRate)
	assert.Regexp(t, regexp.MustCompile(`drawer-\d{4}-\d{2}-\d{2}\.log$`), res.LogFile)

	assert.Equal(t, firstFrame, p.next(t))
	assert.Equal(t, []string{"10.0.0.5:9100"}, network.dials())
	assert.Empty(t, serial.openCalls(), "network must not touch serial")

	data, err := os.ReadFile(res.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "drawer open requested")
	assert.Contains(t, string(data), "[INFO] drawer open succeeded")
}

func TestOpenExplicitAddressCustomPort(t *testing.T) {
	p := startPrinter(t)
	network := newFakeNetwork().route("10.0.0.5:4000", p)
	e := newTestEngine(t, WithDialer(network))

	res := e.Open(context.Background(), Request{IPAddress: "10.0.0.5", Port: 4000})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "10.0.0.5:4000", res.Address)
	assert.Equal(t, firstFrame, p.next(t))
}

func TestOpenExplicitAddressUnreachable(t *testing.T) {
	network := newFakeNetwork()
	serial := &fakeSerial{ports: ports("/dev/ttyUSB0")}
	e := newTestEngine(t, WithDialer(network), WithSerial(serial))

	res := e.Open(context.Background(), Request{IPAddress: "10.0.0.9"})

	assert.False(t, res.Success)
	assert.Equal(t, TransportNetwork, res.Type)
	assert.Equal(t, KindUnreachable, res.Kind)
	assert.Contains(t, res.Message, "10.0.0.9:9100")
	assert.Contains(t, res.Message, "connection refused")
	assert.NotEmpty(t, res.LogFile)
	assert.Empty(t, serial.openCalls(), "no fallback to serial")
}

func TestOpenConfigurationErrorsDoNoIO(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		serial *fakeSerial
		msg    string
	}{
		{"port too large", Request{IPAddress: "10.0.0.5", Port: 70000}, nil, "invalid port 70000"},
		{"negative port", Request{IPAddress: "10.0.0.5", Port: -1}, nil, "invalid port -1"},
		{"bad address", Request{IPAddress: "printer.local"}, nil, "invalid IP address"},
		{"no serial ports", Request{}, &fakeSerial{}, "no serial ports found"},
		{"serial list fails", Request{Mode: ModeSerial}, &fakeSerial{listErr: errors.New("permission denied")}, "permission denied"},
		{"unknown explicit device", Request{PortPath: "/dev/ttyUSB9"}, &fakeSerial{ports: ports("/dev/ttyUSB0", "/dev/ttyS0")}, "available ports: /dev/ttyUSB0, /dev/ttyS0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := newFakeNetwork()
			opts := []Option{WithDialer(network)}
			if tt.serial != nil {
				opts = append(opts, WithSerial(tt.serial))
			}
			e := newTestEngine(t, opts...)

			res := e.Open(context.Background(), tt.req)

			assert.False(t, res.Success)
			assert.Equal(t, KindConfiguration, res.Kind)
			assert.Contains(t, res.Message, tt.msg)
			assert.NotEmpty(t, res.LogFile)
			assert.Empty(t, network.dials())
			if tt.serial != nil {
				assert.Empty(t, tt.serial.openCalls())
			}
		})
	}
}

func TestOpenWithoutSerialCapability(t *testing.T) {
	e := newTestEngine(t)

	res := e.Open(context.Background(), Request{})

	assert.False(t, res.Success)
	assert.Equal(t, TransportSerial, res.Type)
	assert.Equal(t, KindConfiguration, res.Kind)
	assert.Contains(t, res.Message, "not available")
}

func TestOpenDetectedThenDelivered(t *testing.T) {
	p := startPrinter(t)
	network := newFakeNetwork().route("10.1.2.1:9100", p)
	e := newTestEngine(t,
		WithInterfaces(fakeInterfaces{ifaces: []devices.NetInterface{iface("eth0", "10.1.2.50/24")}}),
		WithDialer(network),
	)

	res := e.Open(context.Background(), Request{Mode: ModeNetwork})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "10.1.2.1:9100", res.Address)
	assert.Equal(t, 1, res.CommandUsed)

	// one silent probe, then one connection carrying the kick
	got := [][]byte{p.next(t), p.next(t)}
	assert.ElementsMatch(t, [][]byte{{}, firstFrame}, got)
}

func TestOpenAutoFallsBackToStaticAddresses(t *testing.T) {
	p := startPrinter(t)
	network := newFakeNetwork().route("192.168.1.87:515", p)
	e := newTestEngine(t,
		WithDialer(network),
		WithPreferences(NetworkPreferences{
			FallbackAddresses: addrs("192.168.0.100", "192.168.1.87"),
			ProbePorts:        []int{9100, 515},
		}),
	)

	res := e.Open(context.Background(), Request{Mode: ModeAuto})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "192.168.1.87:515", res.Address)
	assert.Equal(t, []string{"192.168.0.100:9100", "192.168.0.100:515", "192.168.1.87:9100", "192.168.1.87:515"},
		network.dials())
	assert.Equal(t, firstFrame, p.next(t))
}

func TestOpenAutoNothingFound(t *testing.T) {
	network := newFakeNetwork()
	serial := &fakeSerial{ports: ports("/dev/ttyUSB0")}
	prefs := DefaultNetworkPreferences()
	e := newTestEngine(t,
		WithInterfaces(fakeInterfaces{ifaces: []devices.NetInterface{iface("eth0", "10.1.2.50/24")}}),
		WithDialer(network),
		WithSerial(serial),
		WithPreferences(prefs),
	)

	res := e.Open(context.Background(), Request{Mode: ModeAuto})

	assert.False(t, res.Success)
	assert.Equal(t, TransportNetwork, res.Type)
	assert.Equal(t, KindExhausted, res.Kind)
	assert.Contains(t, res.Message, "manually")
	assert.Empty(t, serial.openCalls(), "no fallback to serial")

	// the static list is tried last, address-major, in declared order
	var want []string
	for _, a := range prefs.FallbackAddresses {
		for _, port := range prefs.ProbePorts {
			want = append(want, NetworkCandidate{Address: a, Port: port}.String())
		}
	}
	dials := network.dials()
	require.GreaterOrEqual(t, len(dials), len(want))
	assert.Equal(t, want, dials[len(dials)-len(want):])
}

func TestOpenAutoNoFallbacksConfigured(t *testing.T) {
	e := newTestEngine(t)

	res := e.Open(context.Background(), Request{Mode: ModeNetwork})

	assert.False(t, res.Success)
	assert.Equal(t, KindConfiguration, res.Kind)
	assert.Contains(t, res.Message, "manually")
}

func TestOpenCancelledBeforeStart(t *testing.T) {
	network := newFakeNetwork()
	e := newTestEngine(t,
		WithDialer(network),
		WithPreferences(DefaultNetworkPreferences()),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Open(ctx, Request{Mode: ModeAuto})

	assert.False(t, res.Success)
	assert.Empty(t, network.dials())
}

func TestOpenSerialWalksRatesAndCommands(t *testing.T) {
	// rates before 38400 refuse to open; at 38400 the first frame is
	// rejected and the second accepted
	serial := &fakeSerial{
		ports: ports("/dev/ttyUSB0"),
		behave: func(path string, baud int) portBehaviour {
			switch baud {
			case 9600, 19200, 115200:
				return portBehaviour{openErr: errors.New("device busy")}
			default:
				return portBehaviour{writeErrs: []error{errors.New("write timeout")}}
			}
		},
	}
	e := newTestEngine(t, WithSerial(serial))

	res := e.Open(context.Background(), Request{Mode: ModeSerial})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, TransportSerial, res.Type)
	assert.Equal(t, "/dev/ttyUSB0", res.Port)
	assert.Equal(t, 38400, res.BaudRate)
	assert.Equal(t, 2, res.CommandUsed)
	assert.Empty(t, res.Address)

	assert.Equal(t, []string{
		"/dev/ttyUSB0@9600", "/dev/ttyUSB0@19200", "/dev/ttyUSB0@115200", "/dev/ttyUSB0@38400",
	}, serial.openCalls())
	require.Len(t, serial.handles, 1)
	h := serial.handles[0]
	assert.True(t, h.closed)
	require.Len(t, h.writes, 2)
	assert.Equal(t, firstFrame, h.writes[0])
	assert.Equal(t, []byte{0x1B, 0x70, 0x01, 0x19, 0xFA}, h.writes[1])
}

func TestOpenSerialTriesOtherDevices(t *testing.T) {
	serial := &fakeSerial{
		ports: ports("/dev/ttyS0", "/dev/ttyUSB0"),
		behave: func(path string, baud int) portBehaviour {
			if path == "/dev/ttyUSB0" {
				return portBehaviour{openErr: errors.New("no such device")}
			}
			return portBehaviour{}
		},
	}
	e := newTestEngine(t, WithSerial(serial), WithGOOS("linux"))

	res := e.Open(context.Background(), Request{})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "/dev/ttyS0", res.Port)
	assert.Equal(t, 9600, res.BaudRate)
	// ttyUSB is preferred on linux, so all of its rates come first
	calls := serial.openCalls()
	require.Len(t, calls, 6)
	assert.Equal(t, "/dev/ttyUSB0@9600", calls[0])
	assert.Equal(t, "/dev/ttyS0@9600", calls[5])
}

func TestOpenSerialSecondDeviceAtFourthRate(t *testing.T) {
	// ttyUSB0 refuses every rate; ttyUSB1 refuses the first three, then at
	// 38400 rejects the first frame and accepts the second
	serial := &fakeSerial{
		ports: ports("/dev/ttyUSB0", "/dev/ttyUSB1"),
		behave: func(path string, baud int) portBehaviour {
			if path == "/dev/ttyUSB0" {
				return portBehaviour{openErr: errors.New("device busy")}
			}
			switch baud {
			case 9600, 19200, 115200:
				return portBehaviour{openErr: errors.New("device busy")}
			default:
				return portBehaviour{writeErrs: []error{errors.New("write timeout")}}
			}
		},
	}
	e := newTestEngine(t, WithSerial(serial), WithGOOS("linux"))

	res := e.Open(context.Background(), Request{})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, TransportSerial, res.Type)
	assert.Equal(t, "/dev/ttyUSB1", res.Port)
	assert.Equal(t, 38400, res.BaudRate)
	assert.Equal(t, 2, res.CommandUsed)
	assert.Empty(t, res.Address)

	assert.Equal(t, []string{
		"/dev/ttyUSB0@9600", "/dev/ttyUSB0@19200", "/dev/ttyUSB0@115200", "/dev/ttyUSB0@38400", "/dev/ttyUSB0@57600",
		"/dev/ttyUSB1@9600", "/dev/ttyUSB1@19200", "/dev/ttyUSB1@115200", "/dev/ttyUSB1@38400",
	}, serial.openCalls())
	require.Len(t, serial.handles, 1)
	assert.True(t, serial.handles[0].closed)
	assert.Equal(t, [][]byte{firstFrame, {0x1B, 0x70, 0x01, 0x19, 0xFA}}, serial.handles[0].writes)
}

func TestOpenSerialExplicitPathOnly(t *testing.T) {
	serial := &fakeSerial{
		ports: ports("/dev/ttyS0", "/dev/ttyUSB0"),
		behave: func(path string, baud int) portBehaviour {
			return portBehaviour{openErr: errors.New("device busy")}
		},
	}
	e := newTestEngine(t, WithSerial(serial))

	res := e.Open(context.Background(), Request{PortPath: "/DEV/TTYS0"})

	assert.False(t, res.Success)
	assert.Equal(t, KindExhausted, res.Kind)
	for _, c := range serial.openCalls() {
		assert.True(t, strings.HasPrefix(c, "/dev/ttyS0@"), c)
	}
	assert.Len(t, serial.openCalls(), len(devices.BaudRates))
}

func TestOpenSerialExhausted(t *testing.T) {
	writeErr := errors.New("write timeout")
	serial := &fakeSerial{
		ports: ports("/dev/ttyUSB0"),
		behave: func(path string, baud int) portBehaviour {
			return portBehaviour{writeErrs: []error{writeErr, writeErr, writeErr, writeErr, writeErr}}
		},
	}
	e := newTestEngine(t, WithSerial(serial))

	res := e.Open(context.Background(), Request{})

	assert.False(t, res.Success)
	assert.Equal(t, KindExhausted, res.Kind)
	assert.Contains(t, res.Message, "9600, 19200, 115200, 38400, 57600")
	assert.Contains(t, res.Message, "5 commands per rate")
	assert.Contains(t, res.Message, "available ports: /dev/ttyUSB0")

	require.Len(t, serial.handles, len(devices.BaudRates))
	for _, h := range serial.handles {
		assert.True(t, h.closed, "every handle closed")
		assert.Len(t, h.writes, 5)
	}
}

func TestOpenSerialCommandOrderStopsAtFirstSuccess(t *testing.T) {
	fail := errors.New("rejected")
	serial := &fakeSerial{
		ports: ports("/dev/ttyUSB0"),
		behave: func(string, int) portBehaviour {
			return portBehaviour{writeErrs: []error{fail, fail}}
		},
	}
	e := newTestEngine(t, WithSerial(serial))

	res := e.Open(context.Background(), Request{})

	require.True(t, res.Success)
	assert.Equal(t, 3, res.CommandUsed)
	require.Len(t, serial.handles, 1)

	table := e.Commands()
	writes := serial.handles[0].writes
	require.Len(t, writes, 3)
	for i, w := range writes {
		v, _ := table.At(i)
		assert.Equal(t, v.Bytes(), w)
	}
}

func TestOpenSerialDrainFailureTriesNextCommand(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	serial := &fakeSerial{ports: ports("/dev/ttyUSB0")}
	serial.behave = func(string, int) portBehaviour {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return portBehaviour{drainErr: errors.New("drain failed")}
		}
		return portBehaviour{}
	}
	e := newTestEngine(t, WithSerial(serial))

	res := e.Open(context.Background(), Request{})

	// a drain failure on the only handle burns every command at 9600
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 19200, res.BaudRate)
	assert.Equal(t, 1, res.CommandUsed)
}

func TestOpenNeverPanics(t *testing.T) {
	e := newTestEngine(t, WithSerial(panickingSerial{}))

	res := e.Open(context.Background(), Request{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "internal error")
	assert.NotEmpty(t, res.LogFile)
}

type panickingSerial struct{}

func (panickingSerial) List() ([]devices.SerialPortInfo, error) { panic("driver bug") }
func (panickingSerial) Open(string, int) (devices.SerialPort, error) {
	return nil, errors.New("unreachable")
}

func TestConcurrentOpensShareOneHandle(t *testing.T) {
	serial := &fakeSerial{ports: ports("/dev/ttyUSB0", "/dev/ttyUSB1")}
	e := newTestEngine(t, WithSerial(serial))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.Open(context.Background(), Request{})
			assert.True(t, res.Success, res.Message)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, serial.peak, "at most one open handle at a time")
	assert.Equal(t, 0, serial.active)
}

func TestOpenLogsInvocationID(t *testing.T) {
	e := newTestEngine(t)

	res := e.Open(context.Background(), Request{IPAddress: "10.0.0.5", Port: 70000})

	data, err := os.ReadFile(res.LogFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	id := regexp.MustCompile(`"invocation":"([0-9a-f-]{36})"`)
	first := id.FindStringSubmatch(lines[0])
	require.NotNil(t, first)
	for _, l := range lines {
		assert.Contains(t, l, first[1])
	}
	assert.Equal(t, filepath.Dir(res.LogFile), filepath.Dir(e.LogFile()))
}
