// Package upstream provides the default implementation of the
// dnssec.Upstream capability: sending a query to a configured recursive
// resolver and getting back its response. It is deliberately the one piece
// of the stub that does iterative-looking work (UDP-then-TCP fallback,
// retry-with-backoff), but never performs resolution itself - it only
// round-robins across a fixed, configured set of nameserver addresses.
package upstream

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/miekg/dns"

	applog "github.com/dnsval/stubval/log"
)

const (
	DefaultTimeoutUDP = 2 * time.Second
	DefaultTimeoutTCP = 4 * time.Second
)

// dnsClient is the subset of *dns.Client the pool depends on, kept so tests
// can substitute a fake without opening a socket.
type dnsClient interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

type clientFactory func(protocol string) dnsClient

func defaultClientFactory(protocol string) dnsClient {
	timeout := DefaultTimeoutUDP
	if protocol == "tcp" {
		timeout = DefaultTimeoutTCP
	}
	return &dns.Client{Net: protocol, Timeout: timeout}
}

// Pool round-robins queries across a fixed set of upstream nameserver
// addresses ("host:port" or bare host, port 53 assumed), retrying a failed
// exchange with backoff via avast/retry-go before giving up.
type Pool struct {
	addrs []string
	next  atomic.Uint32

	clientFactory clientFactory
	attempts      uint
}

// NewPool builds a Pool over addrs. attempts is the number of retry-go
// attempts per query (including the first); 0 defaults to 3.
func NewPool(addrs []string, attempts uint) *Pool {
	if attempts == 0 {
		attempts = 3
	}
	return &Pool{addrs: addrs, clientFactory: defaultClientFactory, attempts: attempts}
}

func (p *Pool) pick() string {
	if len(p.addrs) == 0 {
		return ""
	}
	idx := p.next.Add(1) - 1
	addr := p.addrs[idx%uint32(len(p.addrs))]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	return addr
}

// Send implements dnssec.Upstream, retrying a failed exchange with backoff
// via avast/retry-go/v4 before giving up.
func (p *Pool) Send(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	log := applog.PrefixedLog("upstream")

	if len(p.addrs) == 0 {
		return nil, fmt.Errorf("upstream: no nameservers configured")
	}

	var result *dns.Msg

	err := retry.Do(
		func() error {
			addr := p.pick()
			msg, err := p.exchange(ctx, q, addr)
			if err != nil {
				return err
			}
			result = msg
			return nil
		},
		retry.Attempts(p.attempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n).Warn("retrying upstream query")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}

	return result, nil
}

func (p *Pool) exchange(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error) {
	var last error

	for _, protocol := range []string{"udp", "tcp"} {
		client := p.clientFactory(protocol)

		resp, _, err := client.ExchangeContext(ctx, m, addr)
		if err != nil {
			last = err
			continue
		}
		if resp.Truncated && protocol == "udp" {
			continue
		}
		return resp, nil
	}

	if last == nil {
		last = fmt.Errorf("no usable response from %s", addr)
	}
	return nil, last
}
