package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"weftmesh/pkg/config"
	"weftmesh/pkg/observability"
	"weftmesh/pkg/tunnel"

	// Tunnel backends self-register on import.
	_ "weftmesh/pkg/tunnel/mem"
	_ "weftmesh/pkg/tunnel/quic"
	_ "weftmesh/pkg/tunnel/tcp"
	_ "weftmesh/pkg/tunnel/udp"
	_ "weftmesh/pkg/tunnel/winpipe"
	_ "weftmesh/pkg/tunnel/ws"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("weftmesh-echo started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	urls := cfg.Echo.Listeners
	if len(opts.Listeners) > 0 {
		urls = opts.Listeners
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var listeners []tunnel.Listener
	defer func() {
		for _, lis := range listeners {
			_ = lis.Close()
		}
	}()
	for _, raw := range urls {
		lis, err := tunnel.NewListener(raw)
		if err != nil {
			zap.L().Error("bad listener URL", zap.String("url", raw), zap.Error(err))
			return 1
		}
		if err := lis.Listen(ctx); err != nil {
			zap.L().Error("listen failed", zap.String("url", raw), zap.Error(err))
			return 1
		}
		listeners = append(listeners, lis)
		go acceptLoop(ctx, lis)
	}

	zap.L().Info("echo responder is running; press Ctrl+C to exit")
	<-ctx.Done()
	return 0
}

func acceptLoop(ctx context.Context, lis tunnel.Listener) {
	for {
		tun, err := lis.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, tunnel.ErrListenerClosed) {
				zap.L().Error("accept failed",
					zap.String("url", lis.LocalURL().String()), zap.Error(err))
			}
			return
		}
		zap.L().Info("peer connected", zap.String("remote", tun.Info().Remote.String()))
		go echo(tun)
	}
}

// echo returns every received packet to its sender until the peer closes.
func echo(tun tunnel.Tunnel) {
	defer tun.Close()
	remote := tun.Info().Remote.String()
	for {
		p, err := tun.Recv()
		if errors.Is(err, io.EOF) {
			logClose(tun, remote)
			return
		}
		if err != nil {
			zap.L().Warn("recv failed", zap.String("remote", remote), zap.Error(err))
			return
		}
		if err := tun.Send(p); err != nil {
			zap.L().Warn("send failed", zap.String("remote", remote), zap.Error(err))
			return
		}
	}
}

func logClose(tun tunnel.Tunnel, remote string) {
	fields := []zap.Field{zap.String("remote", remote)}
	if sp, ok := tun.(tunnel.StatsProvider); ok {
		s := sp.Stats()
		fields = append(fields,
			zap.Uint64("rx_packets", s.RxPackets), zap.Uint64("rx_bytes", s.RxBytes),
			zap.Uint64("tx_packets", s.TxPackets), zap.Uint64("tx_bytes", s.TxBytes))
	}
	zap.L().Info("peer closed", fields...)
}
