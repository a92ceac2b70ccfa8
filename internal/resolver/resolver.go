// Package resolver turns caller supplied hostnames into the IP addresses servers
// are stored under.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// ErrNoAddress is wrapped when a name resolves to no usable address.
var ErrNoAddress = errors.New("no address found")

// ResolutionError reports a host that could not be resolved.
type ResolutionError struct {
	Err  error
	Host string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// LookupFunc returns the addresses of host.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver resolves hosts with a bounded lookup time.
type Resolver struct {
	lookup  LookupFunc
	timeout time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the system DNS lookup.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithTimeout bounds each lookup. Zero or negative leaves lookups bounded only by ctx.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// New creates a resolver using the system DNS configuration.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns an IP for host. IP literals are returned in canonical form
// without a lookup; names prefer an IPv4 address since the master server lists IPv4.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", &ResolutionError{Host: host, Err: errors.New("empty host")}
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.Unmap().String(), nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return "", &ResolutionError{Host: host, Err: err}
	}

	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			return a.String(), nil
		}
		if !fallback.IsValid() && a.IsValid() {
			fallback = a
		}
	}

	if fallback.IsValid() {
		return fallback.String(), nil
	}

	return "", &ResolutionError{Host: host, Err: ErrNoAddress}
}
