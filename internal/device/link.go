package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

const defaultLinkInterval = 5 * time.Second

// Probe reports nil when the network path it checks is usable.
type Probe func(ctx context.Context) error

// Link tracks whether the network is up by running a probe on an interval.
type Link struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	up atomic.Bool
}

// NewLink builds a Link; it reports down until the first probe succeeds.
func NewLink(probe Probe, interval time.Duration, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = defaultLinkInterval
	}
	return &Link{probe: probe, interval: interval, timeout: interval, logger: logger}
}

// Up reports the last probe result.
func (l *Link) Up() bool {
	return l.up.Load()
}

// Run probes until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		l.check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l *Link) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	err := l.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	up := err == nil
	if l.up.Swap(up) == up {
		return
	}
	if up {
		l.logger.Info("network link up")
		return
	}
	l.logger.Warn("network link down", "error", err.Error())
}

// InterfaceProbe succeeds when any non-loopback interface is up with an address.
func InterfaceProbe(context.Context) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return nil
	}
	return errors.New("no usable network interface")
}

// DialProbe succeeds when a TCP connection to addr can be opened.
func DialProbe(addr string) Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
