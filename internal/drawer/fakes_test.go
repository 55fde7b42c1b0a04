package drawer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drawer-hal/internal/devices"
	"drawer-hal/internal/diagnostics"
)

// testTimings keeps every wait short.
func testTimings() Timings {
	return Timings{
		ProbeTimeout:      100 * time.Millisecond,
		ConnectTimeout:    time.Second,
		HoldOpen:          time.Millisecond,
		SerialOpenTimeout: time.Second,
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	sink, err := diagnostics.NewSink(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	base := []Option{
		WithTimings(testTimings()),
		WithInterfaces(fakeInterfaces{}),
		WithDialer(newFakeNetwork()),
		WithPreferences(NetworkPreferences{ProbePorts: []int{9100, 515}}),
	}
	return New(sink, append(base, opts...)...)
}

// --- interfaces ---

type fakeInterfaces struct {
	ifaces []devices.NetInterface
	err    error
}

func (f fakeInterfaces) Interfaces() ([]devices.NetInterface, error) {
	return f.ifaces, f.err
}

func iface(name string, prefixes ...string) devices.NetInterface {
	n := devices.NetInterface{Name: name, Up: true}
	for _, p := range prefixes {
		n.IPv4 = append(n.IPv4, netip.MustParsePrefix(p))
	}
	return n
}

// --- network ---

// printer is a loopback TCP listener standing in for a receipt printer.
// Every accepted connection's full payload is sent on received.
type printer struct {
	ln       net.Listener
	received chan []byte
}

func startPrinter(t *testing.T) *printer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &printer{ln: ln, received: make(chan []byte, 64)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				data, _ := io.ReadAll(conn)
				p.received <- data
			}()
		}
	}()
	return p
}

func (p *printer) addr() string { return p.ln.Addr().String() }

// next waits for the next connection's payload.
func (p *printer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-p.received:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
		return nil
	}
}

// fakeNetwork routes dials for "alive" addresses to real listeners and
// refuses everything else.
type fakeNetwork struct {
	mu     sync.Mutex
	alive  map[string]string
	dialed []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{alive: map[string]string{}}
}

func (f *fakeNetwork) route(candidate string, p *printer) *fakeNetwork {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[candidate] = p.addr()
	return f
}

func (f *fakeNetwork) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, address)
	real, ok := f.alive[address]
	f.mu.Unlock()

	if !ok {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var d net.Dialer
	return d.DialContext(ctx, network, real)
}

func (f *fakeNetwork) dials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialed...)
}

// --- serial ---

type portBehaviour struct {
	openErr   error
	openBlock chan struct{}
	// writeErrs[i] is returned by the i-th write on this handle.
	writeErrs []error
	drainErr  error
}

type fakeSerial struct {
	mu      sync.Mutex
	ports   []devices.SerialPortInfo
	listErr error
	// behave returns how path@baud behaves; nil means "opens and accepts".
	behave func(path string, baud int) portBehaviour

	opens   []string
	handles []*fakePort
	active  int
	peak    int
}

func (f *fakeSerial) List() ([]devices.SerialPortInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]devices.SerialPortInfo(nil), f.ports...), nil
}

func (f *fakeSerial) Open(path string, baud int) (devices.SerialPort, error) {
	var b portBehaviour
	if f.behave != nil {
		b = f.behave(path, baud)
	}

	f.mu.Lock()
	f.opens = append(f.opens, path+"@"+strconv.Itoa(baud))
	f.mu.Unlock()

	if b.openBlock != nil {
		<-b.openBlock
	}
	if b.openErr != nil {
		return nil, b.openErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	f.peak = max(f.peak, f.active)
	p := &fakePort{owner: f, writeErrs: b.writeErrs, drainErr: b.drainErr}
	f.handles = append(f.handles, p)
	return p, nil
}

func (f *fakeSerial) openCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opens...)
}

type fakePort struct {
	owner     *fakeSerial
	writeErrs []error
	drainErr  error

	writes [][]byte
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	i := len(p.writes)
	p.writes = append(p.writes, append([]byte(nil), b...))
	if i < len(p.writeErrs) && p.writeErrs[i] != nil {
		return 0, p.writeErrs[i]
	}
	return len(b), nil
}

func (p *fakePort) Drain() error { return p.drainErr }

func (p *fakePort) Close() error {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	p.owner.active--
	return nil
}

func ports(paths ...string) []devices.SerialPortInfo {
	out := make([]devices.SerialPortInfo, len(paths))
	for i, p := range paths {
		out[i] = devices.SerialPortInfo{Path: p}
	}
	return out
}
