package drawer

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"drawer-hal/internal/diagnostics"
)

// manualEntryHint ends every network failure message.
const manualEntryHint = "enter the printer's IP address manually"

// Open is the single entry point: it resolves a target for req, delivers a
// drawer-kick frame and always returns a well-formed Result.
//
// Network mode never falls back to serial and serial never falls back to
// network, so a misconfigured terminal cannot kick somebody else's drawer.
func (e *Engine) Open(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	log := e.sink.With("invocation", uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			log.Error("drawer open panicked", "panic", fmt.Sprint(r))
			res = Result{
				Success: false,
				Type:    requestedTransport(req),
				Message: fmt.Sprintf("internal error while opening cash drawer: %v", r),
				Kind:    KindExhausted,
			}
		}
		res.LogFile = e.LogFile()
		e.recorder.ObserveOpen(string(res.Type), res.Success, time.Since(start))
		if res.Success {
			log.Info("drawer open succeeded", "type", res.Type, "message", res.Message,
				"commandUsed", res.CommandUsed)
		} else {
			log.Error("drawer open failed", "type", res.Type, "kind", res.Kind.String(),
				"message", res.Message)
		}
	}()

	log.Info("drawer open requested", "ipAddress", req.IPAddress, "port", req.Port,
		"networkMode", req.Mode.String(), "portPath", req.PortPath)

	switch {
	case req.IPAddress != "":
		return e.openExplicitAddress(ctx, log, req)
	case req.Mode.IsNetwork():
		return e.openDiscovered(ctx, log)
	default:
		return e.openSerialPath(ctx, log, req)
	}
}

func requestedTransport(req Request) Transport {
	if req.IPAddress != "" || req.Mode.IsNetwork() {
		return TransportNetwork
	}
	return TransportSerial
}

func configurationError(t Transport, msg string) Result {
	return Result{Success: false, Type: t, Message: msg, Kind: KindConfiguration}
}

// openExplicitAddress handles branch 1: the caller named the printer.
func (e *Engine) openExplicitAddress(ctx context.Context, log *diagnostics.Logger, req Request) Result {
	port := req.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return configurationError(TransportNetwork, fmt.Sprintf("invalid port %d (must be 1-65535)", port))
	}
	addr, err := netip.ParseAddr(req.IPAddress)
	if err != nil {
		return configurationError(TransportNetwork, fmt.Sprintf("invalid IP address %q", req.IPAddress))
	}

	c := NetworkCandidate{Address: addr.Unmap(), Port: port}
	log.Info("using explicit network address", "address", c.String())

	d, err := e.openNetwork(ctx, log, c)
	if err != nil {
		return Result{
			Success: false,
			Type:    TransportNetwork,
			Address: c.String(),
			Message: fmt.Sprintf("failed to open cash drawer at %s: %v", c, cause(err)),
			Kind:    KindOf(err),
		}
	}
	return e.networkResult(d)
}

// openDiscovered handles branch 2: detection, then the static fallback list.
func (e *Engine) openDiscovered(ctx context.Context, log *diagnostics.Logger) Result {
	log.Info("network mode without address, starting auto-detection")

	if c, ok := e.detect(ctx, log); ok {
		d, err := e.openNetwork(ctx, log, c)
		if err != nil {
			return Result{
				Success: false,
				Type:    TransportNetwork,
				Address: c.String(),
				Message: fmt.Sprintf("detected printer at %s but the drawer command failed: %v; %s",
					c, cause(err), manualEntryHint),
				Kind: KindOf(err),
			}
		}
		return e.networkResult(d)
	}

	fallback := e.fallbackCandidates()
	if len(fallback) == 0 {
		return configurationError(TransportNetwork,
			"no network printer detected and no fallback addresses configured; "+manualEntryHint)
	}

	log.Info("trying fallback addresses", "count", len(fallback))
	for _, c := range fallback {
		if ctx.Err() != nil {
			log.Warn("fallback attempts cancelled", "error", ctx.Err())
			break
		}
		if d, err := e.openNetwork(ctx, log, c); err == nil {
			return e.networkResult(d)
		}
	}

	return Result{
		Success: false,
		Type:    TransportNetwork,
		Message: fmt.Sprintf("no network printer found (auto-detection and %d fallback addresses failed); %s",
			len(fallback), manualEntryHint),
		Kind: KindExhausted,
	}
}

// fallbackCandidates is fallback addresses × probe ports, address-major.
func (e *Engine) fallbackCandidates() []NetworkCandidate {
	var out []NetworkCandidate
	for _, a := range e.prefs.FallbackAddresses {
		for _, p := range e.prefs.ProbePorts {
			out = append(out, NetworkCandidate{Address: a.Unmap(), Port: p})
		}
	}
	return out
}

// openSerialPath handles branch 3: selector then serial driver.
func (e *Engine) openSerialPath(ctx context.Context, log *diagnostics.Logger, req Request) Result {
	if e.serial == nil {
		return configurationError(TransportSerial,
			"no network address given and "+ErrSerialUnavailable.Error())
	}

	ports, err := e.serial.List()
	if err != nil {
		return configurationError(TransportSerial, fmt.Sprintf("cannot enumerate serial ports: %v", err))
	}
	if len(ports) == 0 {
		return configurationError(TransportSerial,
			ErrNoSerialPorts.Error()+"; connect the cash drawer or enter a printer IP address")
	}

	selected, err := selectSerialPort(ports, req.PortPath, e.goos)
	if err != nil {
		return configurationError(TransportSerial, err.Error())
	}
	order := serialTryOrder(ports, selected, req.PortPath != "")
	log.Info("serial port selected", "port", selected, "order", order)

	d, err := e.deliverSerial(ctx, log, order, ports)
	if err != nil {
		return Result{
			Success: false,
			Type:    TransportSerial,
			Message: err.Error(),
			Kind:    KindOf(err),
		}
	}
	return serialResult(d)
}
