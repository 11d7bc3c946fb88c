// Command staticdhcpd runs the statically-provisioned DHCPv4 server: it
// wires the option registry, packet codec, directory cache, rate limiter,
// request pipeline, and UDP endpoint described throughout internal/, and
// drives their lifecycle from OS signals (§6 "Signals").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/cache"
	"github.com/flandhcp/staticdhcpd/internal/config"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/pipeline"
	"github.com/flandhcp/staticdhcpd/internal/ratelimit"
	"github.com/flandhcp/staticdhcpd/internal/statsbus"
	"github.com/flandhcp/staticdhcpd/internal/udpendpoint"
)

// Exit codes per §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitSocketBindFail = 2
	exitReinitFailure  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		return exitConfigError
	}

	backend := directory.NewStaticDirectory(nil)
	dir, closeCache, err := wireCache(cfg, backend)
	if err != nil {
		logger.Error("cache initialisation failed", slog.Any("error", err))
		return exitConfigError
	}
	if closeCache != nil {
		defer closeCache()
	}

	bus := statsbus.New(logger)
	prom := statsbus.NewPrometheusCollectors()
	bus.SubscribeStats(prom.Observe)

	limiter := ratelimit.New(ratelimit.Config{
		Window:                   cfg.PollingInterval,
		SuspendThreshold:         cfg.SuspendThreshold,
		EnableSuspend:            cfg.EnableSuspend,
		UnknownClientTimeout:     cfg.UnauthorizedClientTimeout,
		MisbehavingClientTimeout: cfg.MisbehavingClientTimeout,
	}, timeutil.SystemClock{})
	bus.SubscribeTick(limiter.Purge)
	bus.SubscribeTick(func() { prom.SetCooldownGauge(limiter.CooldownCount()) })

	if reinit, ok := dir.(interface {
		Reinitialise(context.Context) error
	}); ok {
		bus.SubscribeReinit(reinit.Reinitialise)
	}

	pl := pipeline.New(
		pipeline.Settings{
			ServerIP:          cfg.ServerIP,
			ServerPort:        cfg.ServerPort,
			ClientPort:        cfg.ClientPort,
			AllowLocalDHCP:    cfg.AllowLocalDHCP,
			AllowDHCPRelays:   cfg.AllowDHCPRelays,
			AllowedDHCPRelays: cfg.AllowedDHCPRelays,
			Authoritative:     cfg.Authoritative,
			NAKRenewals:       cfg.NAKRenewals,
		},
		dir,
		limiter,
		bus,
		logger,
		nil,
		nil,
	)

	ip := cfg.ServerIP.Bytes()
	endpoint, err := udpendpoint.New(udpendpoint.Config{
		ServerIP:          net.IP(ip[:]),
		ServerPort:        cfg.ServerPort,
		PXEPort:           cfg.PXEPort,
		ResponseInterface: cfg.ResponseInterface,
	}, pl, bus, logger)
	if err != nil {
		logger.Error("socket bind failed", slog.Any("error", err))
		return exitSocketBindFail
	}
	defer endpoint.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go bus.RunTicker(ctx)
	go watchReinitSignal(ctx, bus, logger)

	logger.Info("staticdhcpd starting", slog.String("system_name", cfg.SystemName), slog.String("server_ip", cfg.ServerIP.String()))
	if err := endpoint.Run(ctx); err != nil {
		logger.Error("endpoint terminated", slog.Any("error", err))
		return exitSocketBindFail
	}
	logger.Info("staticdhcpd stopped")
	return exitOK
}

// watchReinitSignal implements §6 "SIGHUP: reinitialise (flush caches)".
// A reinit callback failure escalates to shutdown per §4.I/§7.
func watchReinitSignal(ctx context.Context, bus *statsbus.Bus, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			logger.Info("reinitialising on SIGHUP")
			if err := bus.Reinitialise(ctx); err != nil {
				logger.Error("reinitialisation failed, shutting down", slog.Any("error", err))
				os.Exit(exitReinitFailure)
			}
		}
	}
}

// loadConfig builds and validates the server's Config. Parsing it out of a
// file is explicitly out of scope (§1, §6); a real deployment would call
// into its own config-file loader here and pass the result through
// Validate, exactly as this reference main does with its built-in default.
// Leaving STATICDHCPD_SERVER_IP unset yields the zero address, which
// Validate rejects — that failure is deliberate: there is no safe default
// server identity to fall back to silently.
func loadConfig() (config.Config, error) {
	cfg := config.Config{
		SystemName: "staticDHCPd",
		ServerIP:   mustParseEnvIP("STATICDHCPD_SERVER_IP", "0.0.0.0"),
	}.WithDefaults()
	cfg.AllowLocalDHCP = true
	cfg.EnableSuspend = true

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func mustParseEnvIP(envVar, fallback string) addr.IPv4 {
	s := os.Getenv(envVar)
	if s == "" {
		s = fallback
	}
	ip, err := addr.ParseIPv4(s)
	if err != nil {
		return addr.IPv4{}
	}
	return ip
}

func wireCache(cfg config.Config, backend directory.Port) (directory.Port, func(), error) {
	if !cfg.UseCache {
		return backend, nil, nil
	}
	if cfg.DiskCachePath == "" {
		return cache.NewMemoryCache(backend), nil, nil
	}
	disk, err := cache.OpenDiskCache(cfg.DiskCachePath, backend)
	if err != nil {
		return nil, nil, err
	}
	return disk, func() { _ = disk.Close() }, nil
}
