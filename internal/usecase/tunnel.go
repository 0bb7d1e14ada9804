package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"bussid/internal/domain"
)

// TunnelUseCase はCONNECTトンネルを横取りせずに中継する.
// 暗号化された通信はワーカーから見えないため, 常にネットワークへ素通しする.
type TunnelUseCase struct {
	metrics domain.MetricsCollector
	logger  domain.Logger
	dialer  *net.Dialer
}

// NewTunnelUseCase は新しいTunnelUseCaseインスタンスを作成
func NewTunnelUseCase(metrics domain.MetricsCollector, logger domain.Logger) *TunnelUseCase {
	return &TunnelUseCase{
		metrics: metrics,
		logger:  logger,
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// HandleTunnel はクライアントとサーバー間のバイト列を双方向に中継する
func (uc *TunnelUseCase) HandleTunnel(
	ctx context.Context, clientConn net.Conn, host string,
) error {
	uc.metrics.RecordBypass("connect")

	serverConn, err := uc.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		uc.metrics.RecordError()
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	errc := make(chan error, 2)

	// クライアント → サーバー
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		_, err := io.CopyBuffer(serverConn, clientConn, buf)
		if err != nil && !isConnectionClosed(err) {
			errc <- fmt.Errorf("client to server: %w", err)
		}
		if tc, ok := serverConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	// サーバー → クライアント
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		n, err := io.CopyBuffer(clientConn, serverConn, buf)
		uc.metrics.AddBytesServed(n)
		if err != nil && !isConnectionClosed(err) {
			errc <- fmt.Errorf("server to client: %w", err)
		}
		if tc, ok := clientConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	case <-done:
		return nil
	}
}

// isConnectionClosed は接続が正常に閉じられたかを判断
func isConnectionClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
