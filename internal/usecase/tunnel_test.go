package usecase

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestTunnelUseCase_RelaysBytes(t *testing.T) {
	addr := startEchoServer(t)
	metrics := newCountingMetrics()
	uc := NewTunnelUseCase(metrics, &recordingLogger{})

	client, proxySide := net.Pipe()
	errc := make(chan error, 1)
	go func() {
		errc <- uc.HandleTunnel(context.Background(), proxySide, addr)
	}()

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, client.Close())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tunnel did not finish")
	}
	assert.Equal(t, 1, metrics.bypassed["connect"])
}

func TestTunnelUseCase_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	metrics := newCountingMetrics()
	uc := NewTunnelUseCase(metrics, &recordingLogger{})

	client, proxySide := net.Pipe()
	defer client.Close()

	err = uc.HandleTunnel(context.Background(), proxySide, addr)
	assert.Error(t, err)
	assert.Equal(t, 1, metrics.count("errors"))
}
