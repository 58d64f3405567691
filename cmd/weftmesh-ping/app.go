package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"weftmesh/pkg/codec"
	"weftmesh/pkg/config"
	"weftmesh/pkg/observability"
	"weftmesh/pkg/packet"
	"weftmesh/pkg/probe"
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
	mergeFlags(&cfg.Probe, opts)

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Probe.Target == "" {
		zap.L().Error("no probe target; pass -target or set probe.target")
		return 1
	}
	if opts.ForceV4 && opts.ForceV6 {
		zap.L().Error("-4 and -6 are mutually exclusive")
		return 1
	}

	cdc, err := codecFor(cfg.Probe.Encoding)
	if err != nil {
		zap.L().Error("bad probe encoding", zap.String("encoding", cfg.Probe.Encoding), zap.Error(err))
		return 1
	}

	conn, err := tunnel.NewConnector(cfg.Probe.Target)
	if err != nil {
		zap.L().Error("bad target URL", zap.String("url", cfg.Probe.Target), zap.Error(err))
		return 1
	}
	conn.SetIPVersion(ipVersion(cfg.Probe.IPVersion))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("probing", zap.String("target", cfg.Probe.Target),
		zap.Int("count", cfg.Probe.Count), zap.Int("payload_len", cfg.Probe.PayloadLen),
		zap.String("encoding", cfg.Probe.Encoding))

	tun, err := conn.Connect(ctx)
	if err != nil {
		zap.L().Error("connect failed", zap.Error(err))
		return 1
	}
	defer tun.Close()
	// Unblock a pending Recv when the run is interrupted.
	go func() {
		<-ctx.Done()
		_ = tun.Close()
	}()

	interval := time.Duration(cfg.Probe.IntervalMS) * time.Millisecond
	var rtts []time.Duration
	sent := 0
	for seq := 1; seq <= cfg.Probe.Count; seq++ {
		if ctx.Err() != nil {
			break
		}
		m, err := probe.New(uint64(seq), cfg.Probe.PayloadLen)
		if err != nil {
			zap.L().Error("build probe", zap.Error(err))
			return 1
		}
		b, err := m.Encode(cdc)
		if err != nil {
			zap.L().Error("encode probe", zap.Error(err))
			return 1
		}
		if err := tun.Send(packet.FromBytes(b)); err != nil {
			zap.L().Error("send failed", zap.Error(err))
			break
		}
		sent++

		reply, err := tun.Recv()
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Warn("interrupted")
			} else if errors.Is(err, io.EOF) {
				zap.L().Warn("peer closed the tunnel")
			} else {
				zap.L().Error("recv failed", zap.Error(err))
			}
			break
		}
		echo, err := probe.Decode(cdc, reply.Bytes())
		if err != nil {
			zap.L().Warn("bad echo payload", zap.Error(err))
			continue
		}
		if echo.Seq != uint64(seq) {
			zap.L().Warn("sequence mismatch",
				zap.Uint64("want", uint64(seq)), zap.Uint64("got", echo.Seq))
			continue
		}
		rtt := echo.RTT(time.Now())
		rtts = append(rtts, rtt)
		zap.L().Info("probe reply", zap.Uint64("seq", echo.Seq),
			zap.Int("bytes", reply.Len()), zap.Duration("rtt", rtt))

		if seq < cfg.Probe.Count {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	return summarize(sent, rtts)
}

// mergeFlags lays explicit CLI options over the loaded configuration.
func mergeFlags(p *config.ProbeConfig, opts Options) {
	if opts.Target != "" {
		p.Target = opts.Target
	}
	if opts.Count > 0 {
		p.Count = opts.Count
	}
	if opts.IntervalMS > 0 {
		p.IntervalMS = opts.IntervalMS
	}
	if opts.Size >= 0 {
		p.PayloadLen = opts.Size
	}
	if opts.ForceV4 {
		p.IPVersion = "4"
	}
	if opts.ForceV6 {
		p.IPVersion = "6"
	}
}

func ipVersion(s string) tunnel.IPVersion {
	switch s {
	case "4":
		return tunnel.IPv4Only
	case "6":
		return tunnel.IPv6Only
	default:
		return tunnel.IPBoth
	}
}

func codecFor(encoding string) (codec.Codec, error) {
	reg := codec.NewRegistry()
	cb, err := codec.CBOR()
	if err != nil {
		return nil, err
	}
	reg.Register(cb)
	cdc := reg.Get(codec.ContentTypeOf(encoding))
	if cdc == nil {
		return nil, errors.New("unsupported encoding")
	}
	return cdc, nil
}

func summarize(sent int, rtts []time.Duration) int {
	received := len(rtts)
	loss := 0.0
	if sent > 0 {
		loss = float64(sent-received) / float64(sent) * 100
	}
	fields := []zap.Field{
		zap.Int("sent", sent), zap.Int("received", received),
		zap.Float64("loss_pct", loss),
	}
	if received > 0 {
		min, max, sum := rtts[0], rtts[0], time.Duration(0)
		for _, r := range rtts {
			if r < min {
				min = r
			}
			if r > max {
				max = r
			}
			sum += r
		}
		fields = append(fields, zap.Duration("rtt_min", min),
			zap.Duration("rtt_avg", sum/time.Duration(received)), zap.Duration("rtt_max", max))
	}
	zap.L().Info("probe summary", fields...)
	if received == 0 {
		return 1
	}
	return 0
}
