package drawer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingConn reports every Close and can be told to reject writes.
type countingConn struct {
	net.Conn
	writeErr error
	closes   *atomic.Int32
}

func (c countingConn) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.Conn.Write(b)
}

func (c countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

type pipeDialer struct {
	writeErr error
	closes   atomic.Int32
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		io.Copy(io.Discard, server)
		server.Close()
	}()
	return countingConn{Conn: client, writeErr: d.writeErr, closes: &d.closes}, nil
}

func TestOpenNetworkClosesOnce(t *testing.T) {
	tests := []struct {
		name     string
		writeErr error
		success  bool
	}{
		{"delivered", nil, true},
		{"write rejected", errors.New("broken pipe"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &pipeDialer{writeErr: tt.writeErr}
			e := newTestEngine(t, WithDialer(dialer))

			res := e.Open(context.Background(), Request{IPAddress: "10.0.0.5"})

			require.Equal(t, tt.success, res.Success, res.Message)
			assert.Equal(t, int32(1), dialer.closes.Load())
			if !tt.success {
				assert.Equal(t, KindWriteFailure, res.Kind)
			}
		})
	}
}
