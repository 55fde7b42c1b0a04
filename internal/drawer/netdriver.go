package drawer

import (
	"context"
	"fmt"
	"net"
	"time"

	"drawer-hal/internal/diagnostics"
)

// networkDelivery is the outcome of one successful network open.
type networkDelivery struct {
	target  NetworkCandidate
	command int // zero-based
}

// openNetwork delivers the first command frame to c. Once the frame is
// written the attempt counts as delivered even if closing later fails.
func (e *Engine) openNetwork(ctx context.Context, log *diagnostics.Logger, c NetworkCandidate) (networkDelivery, error) {
	target := c.String()
	cmd := e.commands.First()

	var delivered bool
	err := e.withHandle(ctx, e.timings.ConnectTimeout, target, func() error {
		dctx, cancel := context.WithTimeout(ctx, e.timings.ConnectTimeout)
		defer cancel()

		conn, err := e.dialer.DialContext(dctx, "tcp", target)
		if err != nil {
			return &AttemptError{Kind: classifyNetError(err), Target: target, Err: err}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		conn.SetWriteDeadline(time.Now().Add(e.timings.ConnectTimeout))
		if _, err := conn.Write(cmd.Bytes()); err != nil {
			conn.Close()
			kind := KindWriteFailure
			if classifyNetError(err) == KindTimeout {
				kind = KindTimeout
			}
			return &AttemptError{Kind: kind, Target: target, Err: err}
		}
		delivered = true
		log.Info("drawer command written", "address", target, "command", cmd.Name)

		// Give the printer time to act before the socket goes away.
		time.Sleep(e.timings.HoldOpen)

		if err := conn.Close(); err != nil {
			log.Warn("close after write failed, command already delivered",
				"address", target, "error", err)
		}
		return nil
	})

	if err != nil && !delivered {
		e.recorder.ObserveAttempt(string(TransportNetwork), KindOf(err).String())
		log.Warn("network open failed", "address", target, "kind", KindOf(err).String(), "error", err)
		return networkDelivery{}, err
	}
	e.recorder.ObserveAttempt(string(TransportNetwork), "success")
	return networkDelivery{target: c, command: 0}, nil
}

// networkResult maps a delivery onto the caller-facing result.
func (e *Engine) networkResult(d networkDelivery) Result {
	return Result{
		Success:     true,
		Type:        TransportNetwork,
		Address:     d.target.String(),
		CommandUsed: d.command + 1,
		Message:     fmt.Sprintf("cash drawer opened via network printer at %s", d.target),
	}
}
