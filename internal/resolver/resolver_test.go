package resolver

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticLookup(addrs ...string) LookupFunc {
	return func(context.Context, string) ([]netip.Addr, error) {
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, netip.MustParseAddr(a))
		}
		return out, nil
	}
}

func TestResolveLiteralSkipsLookup(t *testing.T) {
	r := New(WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		t.Fatal("lookup must not be called for literals")
		return nil, nil
	}))

	ip, err := r.Resolve(context.Background(), " 1.2.3.4 ")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", ip)

	ip, err = r.Resolve(context.Background(), "[::ffff:5.6.7.8]")
	require.NoError(t, err)
	assert.Equal(t, "5.6.7.8", ip)
}

func TestResolvePrefersIPv4(t *testing.T) {
	r := New(WithLookup(staticLookup("2001:db8::1", "9.9.9.9")))

	ip, err := r.Resolve(context.Background(), "mohaa.example.org")
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", ip)
}

func TestResolveFallsBackToIPv6(t *testing.T) {
	r := New(WithLookup(staticLookup("2001:db8::1")))

	ip, err := r.Resolve(context.Background(), "v6.example.org")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", ip)
}

func TestResolveFailures(t *testing.T) {
	lookupErr := errors.New("no such host")
	r := New(WithLookup(func(context.Context, string) ([]netip.Addr, error) { return nil, lookupErr }))

	_, err := r.Resolve(context.Background(), "missing.example.org")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "missing.example.org", re.Host)
	assert.ErrorIs(t, err, lookupErr)

	_, err = New(WithLookup(staticLookup())).Resolve(context.Background(), "empty.example.org")
	assert.ErrorIs(t, err, ErrNoAddress)

	_, err = r.Resolve(context.Background(), "   ")
	assert.ErrorAs(t, err, &re)
}

func TestResolveTimeout(t *testing.T) {
	r := New(
		WithTimeout(20*time.Millisecond),
		WithLookup(func(ctx context.Context, _ string) ([]netip.Addr, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)

	_, err := r.Resolve(context.Background(), "slow.example.org")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
