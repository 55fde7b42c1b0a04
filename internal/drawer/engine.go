// Package drawer is the cash-drawer activation engine: it finds a drawer on
// the network or on a serial line and delivers an ESC/POS drawer-kick frame.
package drawer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"drawer-hal/internal/devices"
	"drawer-hal/internal/diagnostics"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// InterfaceLister enumerates host network interfaces.
type InterfaceLister interface {
	Interfaces() ([]devices.NetInterface, error)
}

// Recorder receives per-invocation and per-attempt observations.
type Recorder interface {
	ObserveOpen(transport string, success bool, d time.Duration)
	ObserveAttempt(transport, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOpen(string, bool, time.Duration) {}
func (nopRecorder) ObserveAttempt(string, string)           {}

// Timings bounds every attempt the engine makes.
type Timings struct {
	// ProbeTimeout bounds one reachability probe during discovery.
	ProbeTimeout time.Duration
	// ConnectTimeout bounds the TCP connect of an actual open.
	ConnectTimeout time.Duration
	// HoldOpen is how long a handle stays open after the frame is written.
	HoldOpen time.Duration
	// SerialOpenTimeout forces failure if a serial open never returns.
	SerialOpenTimeout time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		ProbeTimeout:      200 * time.Millisecond,
		ConnectTimeout:    5 * time.Second,
		HoldOpen:          time.Second,
		SerialOpenTimeout: 10 * time.Second,
	}
}

// NetworkPreferences is the deployment-specific data that steers discovery.
type NetworkPreferences struct {
	// PreferredSubnets rank right after the host's own subnets.
	PreferredSubnets []netip.Prefix
	// DefaultAddresses are prepended to the discovered candidates.
	DefaultAddresses []netip.Addr
	// FallbackAddresses are tried with the drawer kick when discovery finds
	// nothing.
	FallbackAddresses []netip.Addr
	// ProbePorts are tried for every candidate, in order.
	ProbePorts []int
}

// DefaultNetworkPreferences returns the stock preference data.
func DefaultNetworkPreferences() NetworkPreferences {
	return NetworkPreferences{
		PreferredSubnets: []netip.Prefix{netip.MustParsePrefix("192.168.0.0/24")},
		DefaultAddresses: []netip.Addr{
			netip.MustParseAddr("192.168.0.100"),
			netip.MustParseAddr("192.168.1.100"),
			netip.MustParseAddr("192.168.1.87"),
		},
		FallbackAddresses: []netip.Addr{
			netip.MustParseAddr("192.168.0.100"),
			netip.MustParseAddr("192.168.1.100"),
			netip.MustParseAddr("192.168.0.87"),
			netip.MustParseAddr("192.168.1.87"),
			netip.MustParseAddr("10.0.0.100"),
		},
		ProbePorts: []int{9100, 515},
	}
}

// DefaultScanLimit caps the discovery candidate list.
const DefaultScanLimit = 30

// Engine holds everything the drawer operations need. Build one per process.
type Engine struct {
	sink      *diagnostics.Sink
	serial    devices.SerialAccess
	ifaces    InterfaceLister
	dialer    Dialer
	commands  *devices.CommandTable
	prefs     NetworkPreferences
	timings   Timings
	scanLimit int
	goos      string
	recorder  Recorder

	// handles admits one open socket or serial handle at a time.
	handles *semaphore.Weighted
}

// Option configures an Engine.
type Option func(*Engine)

// WithSerial sets the serial capability. Without it the serial path and
// port listing report "not available".
func WithSerial(s devices.SerialAccess) Option {
	return func(e *Engine) { e.serial = s }
}

func WithInterfaces(l InterfaceLister) Option {
	return func(e *Engine) { e.ifaces = l }
}

func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

func WithCommands(t *devices.CommandTable) Option {
	return func(e *Engine) {
		if t != nil && t.Len() > 0 {
			e.commands = t
		}
	}
}

func WithPreferences(p NetworkPreferences) Option {
	return func(e *Engine) { e.prefs = p }
}

func WithTimings(t Timings) Option {
	return func(e *Engine) { e.timings = t }
}

func WithScanLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.scanLimit = n
		}
	}
}

// WithGOOS overrides the platform used for serial naming heuristics.
func WithGOOS(goos string) Option {
	return func(e *Engine) { e.goos = goos }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// New builds an engine around a diagnostics sink.
func New(sink *diagnostics.Sink, opts ...Option) *Engine {
	e := &Engine{
		sink:      sink,
		ifaces:    devices.SystemInterfaces{},
		dialer:    &net.Dialer{},
		commands:  devices.DefaultCommandTable(),
		prefs:     DefaultNetworkPreferences(),
		timings:   DefaultTimings(),
		scanLimit: DefaultScanLimit,
		goos:      runtime.GOOS,
		recorder:  nopRecorder{},
		handles:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.prefs.ProbePorts) == 0 {
		e.prefs.ProbePorts = DefaultNetworkPreferences().ProbePorts
	}
	return e
}

// Commands returns the command table in use.
func (e *Engine) Commands() *devices.CommandTable {
	return e.commands
}

// LogFile returns the diagnostics file for today.
func (e *Engine) LogFile() string {
	return e.sink.Path()
}

// acquireHandle takes the engine-wide handle slot, waiting at most wait.
// A slot still held after wait (by an open that never returned) is a
// timeout for target; cancellation of ctx is returned as is.
func (e *Engine) acquireHandle(ctx context.Context, wait time.Duration, target string) error {
	actx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := e.handles.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &AttemptError{
			Kind:   KindTimeout,
			Target: target,
			Err:    fmt.Errorf("%w within %s", ErrHandleBusy, wait),
		}
	}
	return nil
}

// withHandle runs fn while holding the engine-wide handle slot.
func (e *Engine) withHandle(ctx context.Context, wait time.Duration, target string, fn func() error) error {
	if err := e.acquireHandle(ctx, wait, target); err != nil {
		return err
	}
	defer e.handles.Release(1)
	return fn()
}
