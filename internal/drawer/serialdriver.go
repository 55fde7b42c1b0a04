package drawer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drawer-hal/internal/devices"
	"drawer-hal/internal/diagnostics"
)

// serialState is a step of the per-rate delivery state machine.
type serialState int

const (
	stateOpening serialState = iota
	stateWriting
	stateDraining
	stateHoldOpen
	stateSucceeded
	stateFailed
)

func (s serialState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateWriting:
		return "writing"
	case stateDraining:
		return "draining"
	case stateHoldOpen:
		return "hold_open"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExhaustedError reports that every candidate was tried without success.
type ExhaustedError struct {
	Summary  string
	Attempts []error
}

func (e *ExhaustedError) Error() string { return e.Summary }

func (e *ExhaustedError) Unwrap() []error { return e.Attempts }

// serialDelivery is the outcome of one successful serial open.
type serialDelivery struct {
	path    string
	baud    int
	command int // zero-based
}

type openResult struct {
	port devices.SerialPort
	err  error
}

// serialRateAttempt runs the state machine for one device at one rate.
type serialRateAttempt struct {
	e    *Engine
	log  *diagnostics.Logger
	path string
	baud int

	state serialState
	port  devices.SerialPort
	cmd   int
	errs  []error
}

// run drives the machine to a terminal state. The engine handle slot must be
// held by the caller; run reports whether it handed the slot to a goroutine
// still waiting on an open that never returned.
func (a *serialRateAttempt) run() (handedOff bool) {
	commands := a.e.commands
	for {
		switch a.state {
		case stateOpening:
			port, orphaned, err := a.open()
			if err != nil {
				a.fail(err)
				return orphaned
			}
			a.port = port
			a.state = stateWriting

		case stateWriting:
			cmd, _ := commands.At(a.cmd)
			n, err := a.port.Write(cmd.Bytes())
			if err == nil && n != cmd.Len() {
				err = fmt.Errorf("short write: %d of %d bytes", n, cmd.Len())
			}
			if err != nil {
				a.commandFailed(cmd, err)
				continue
			}
			a.state = stateDraining

		case stateDraining:
			if err := a.port.Drain(); err != nil {
				cmd, _ := commands.At(a.cmd)
				a.commandFailed(cmd, fmt.Errorf("drain: %w", err))
				continue
			}
			a.state = stateHoldOpen

		case stateHoldOpen:
			time.Sleep(a.e.timings.HoldOpen)
			a.close()
			a.state = stateSucceeded

		case stateSucceeded, stateFailed:
			return false
		}
	}
}

// commandFailed advances to the next frame, or fails the rate when the
// table is exhausted.
func (a *serialRateAttempt) commandFailed(cmd devices.CommandVariant, err error) {
	a.log.Warn("serial command write failed",
		"port", a.path, "baudRate", a.baud, "command", a.cmd+1, "frame", cmd.Name, "error", err)
	a.errs = append(a.errs, &AttemptError{
		Kind:   KindWriteFailure,
		Target: fmt.Sprintf("%s@%d cmd %d", a.path, a.baud, a.cmd+1),
		Err:    err,
	})
	a.cmd++
	if a.cmd >= a.e.commands.Len() {
		a.close()
		a.state = stateFailed
	}
}

func (a *serialRateAttempt) fail(err error) {
	a.errs = append(a.errs, err)
	a.close()
	a.state = stateFailed
}

func (a *serialRateAttempt) close() {
	if a.port == nil {
		return
	}
	if err := a.port.Close(); err != nil {
		a.log.Warn("serial close failed", "port", a.path, "error", err)
	}
	a.port = nil
}

// open calls the device layer under the open-timeout guard. When the guard
// fires, a goroutine keeps waiting for the open, closes whatever it returns
// and only then releases the handle slot.
func (a *serialRateAttempt) open() (devices.SerialPort, bool, error) {
	target := fmt.Sprintf("%s@%d", a.path, a.baud)
	ch := make(chan openResult, 1)
	go func() {
		port, err := a.e.serial.Open(a.path, a.baud)
		ch <- openResult{port: port, err: err}
	}()

	timer := time.NewTimer(a.e.timings.SerialOpenTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, false, &AttemptError{Kind: KindUnreachable, Target: target, Err: r.err}
		}
		return r.port, false, nil
	case <-timer.C:
		handles := a.e.handles
		go func() {
			r := <-ch
			if r.port != nil {
				r.port.Close()
			}
			handles.Release(1)
		}()
		return nil, true, &AttemptError{
			Kind:   KindTimeout,
			Target: target,
			Err:    fmt.Errorf("open did not complete within %s", a.e.timings.SerialOpenTimeout),
		}
	}
}

// openSerialRate runs one (device, rate) attempt holding the handle slot.
// openTimedOut reports that the open-timeout guard fired and the slot went to
// the goroutine still waiting on the device.
func (e *Engine) openSerialRate(ctx context.Context, log *diagnostics.Logger, path string, baud int) (cmd int, openTimedOut bool, errs []error) {
	target := fmt.Sprintf("%s@%d", path, baud)
	if err := e.acquireHandle(ctx, e.timings.SerialOpenTimeout, target); err != nil {
		e.recorder.ObserveAttempt(string(TransportSerial), KindOf(err).String())
		return -1, false, []error{err}
	}
	a := &serialRateAttempt{e: e, log: log, path: path, baud: baud, state: stateOpening}
	handedOff := a.run()
	if !handedOff {
		e.handles.Release(1)
	}

	if a.state == stateSucceeded {
		e.recorder.ObserveAttempt(string(TransportSerial), "success")
		return a.cmd, false, nil
	}
	outcome := KindWriteFailure
	if len(a.errs) > 0 {
		outcome = KindOf(a.errs[len(a.errs)-1])
	}
	e.recorder.ObserveAttempt(string(TransportSerial), outcome.String())
	return -1, handedOff, a.errs
}

// deliverSerial walks devices in order and rates in declared order until a
// frame is delivered. A device whose open hangs past the guard is not tried
// at its remaining rates.
func (e *Engine) deliverSerial(ctx context.Context, log *diagnostics.Logger, order []string, enumerated []devices.SerialPortInfo) (serialDelivery, error) {
	var errs []error
	for _, path := range order {
		for _, baud := range devices.BaudRates {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return serialDelivery{}, e.serialExhausted(order, enumerated, errs)
			}

			log.Info("serial attempt", "port", path, "baudRate", baud)
			cmd, openTimedOut, attemptErrs := e.openSerialRate(ctx, log, path, baud)
			if cmd >= 0 {
				log.Info("serial drawer command delivered",
					"port", path, "baudRate", baud, "command", cmd+1)
				return serialDelivery{path: path, baud: baud, command: cmd}, nil
			}
			log.Warn("serial rate failed", "port", path, "baudRate", baud, "error", errors.Join(attemptErrs...))
			errs = append(errs, attemptErrs...)
			if openTimedOut {
				log.Warn("serial open hung, skipping remaining rates", "port", path)
				break
			}
		}
	}
	return serialDelivery{}, e.serialExhausted(order, enumerated, errs)
}

func (e *Engine) serialExhausted(tried []string, enumerated []devices.SerialPortInfo, errs []error) error {
	rates := make([]string, len(devices.BaudRates))
	for i, r := range devices.BaudRates {
		rates[i] = strconv.Itoa(r)
	}
	all := make([]string, len(enumerated))
	for i, p := range enumerated {
		all[i] = p.Path
	}
	summary := fmt.Sprintf(
		"failed to open cash drawer: tried %s at %s baud with %d commands per rate; available ports: %s",
		strings.Join(tried, ", "), strings.Join(rates, ", "), e.commands.Len(), strings.Join(all, ", "))
	return &ExhaustedError{Summary: summary, Attempts: errs}
}

// serialResult maps a delivery onto the caller-facing result.
func serialResult(d serialDelivery) Result {
	return Result{
		Success:     true,
		Type:        TransportSerial,
		Port:        d.path,
		BaudRate:    d.baud,
		CommandUsed: d.command + 1,
		Message:     fmt.Sprintf("cash drawer opened via serial port %s at %d baud", d.path, d.baud),
	}
}
