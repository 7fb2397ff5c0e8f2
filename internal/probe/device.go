package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/vesaa/netgaze/internal/models"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = time.Second

// EchoFunc sends one echo request and waits up to timeout for the reply.
// ok is false when no reply arrived in time; err is set when the echo could not be attempted.
type EchoFunc func(ctx context.Context, address string, timeout time.Duration) (rtt time.Duration, ok bool, err error)

// DialFunc opens a network connection; it matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks reachability of remote devices.
type Prober struct {
	timeout time.Duration
	dial    DialFunc
	echo    EchoFunc
	now     func() time.Time
}

// Option customises a Prober.
type Option func(*Prober)

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option { return func(p *Prober) { p.dial = d } }

// WithEcho replaces the ICMP echo implementation.
func WithEcho(e EchoFunc) Option { return func(p *Prober) { p.echo = e } }

// WithClock replaces the time source used for SampledAt and latency.
func WithClock(now func() time.Time) Option { return func(p *Prober) { p.now = now } }

// NewProber creates a Prober. privileged selects raw ICMP sockets over
// unprivileged UDP echo (Linux needs net.ipv4.ping_group_range for the latter).
func NewProber(timeout time.Duration, privileged bool, opts ...Option) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prober{
		timeout: timeout,
		dial:    (&net.Dialer{}).DialContext,
		echo:    icmpEcho(privileged),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe checks one target. It never returns an error: timeouts, refusals and
// resolution failures are reported as DOWN or ERROR results.
func (p *Prober) Probe(ctx context.Context, t models.Target) SampleResult {
	if t.Address == "" {
		return p.result(StatusError, 0, "No address")
	}
	if t.UsesTCP() {
		return p.probeTCP(ctx, t.Address, *t.ProbePort)
	}
	return p.probeEcho(ctx, t.Address)
}

func (p *Prober) probeTCP(ctx context.Context, address string, port int) SampleResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return p.result(StatusError, 0, "Resolve failed")
		}
		return p.result(StatusDown, 0, "Closed")
	}
	_ = conn.Close()

	ms := p.now().Sub(start).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return p.result(StatusUp, ms, fmt.Sprintf("Port %d", port))
}

func (p *Prober) probeEcho(ctx context.Context, address string) SampleResult {
	rtt, ok, err := p.echo(ctx, address, p.timeout)
	if err != nil {
		return p.result(StatusError, 0, "Error")
	}
	if !ok {
		return p.result(StatusDown, 0, "Timeout")
	}
	ms := rtt.Milliseconds()
	return p.result(StatusUp, ms, fmt.Sprintf("%d ms", ms))
}

func (p *Prober) result(status Status, latency int64, detail string) SampleResult {
	return SampleResult{Status: status, LatencyMS: latency, Detail: detail, SampledAt: p.now()}
}

// icmpEcho pings address once using pro-bing.
func icmpEcho(privileged bool) EchoFunc {
	return func(ctx context.Context, address string, timeout time.Duration) (time.Duration, bool, error) {
		pinger, err := probing.NewPinger(address)
		if err != nil {
			return 0, false, fmt.Errorf("resolve %s: %w", address, err)
		}
		pinger.Count = 1
		pinger.Timeout = timeout
		pinger.SetPrivileged(privileged)

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				pinger.Stop()
			case <-done:
			}
		}()

		if err := pinger.Run(); err != nil {
			return 0, false, fmt.Errorf("ping %s: %w", address, err)
		}
		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return 0, false, nil
		}
		return stats.AvgRtt, true, nil
	}
}
