package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(ips []string, err error) HostLookup {
	return func(context.Context, string) ([]string, error) { return ips, err }
}

func blocking(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestResolver(local HostLookup, public ...HostLookup) *Resolver {
	return &Resolver{Local: local, Public: public, LocalTimeout: 50 * time.Millisecond, PublicTimeout: 200 * time.Millisecond}
}

func TestLookupPrefersIPv4FromSystem(t *testing.T) {
	r := newTestResolver(static([]string{"::1", "10.0.0.7"}, nil))

	ip, err := r.Lookup(context.Background(), "relay.internal")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
}

func TestLookupLiteralIP(t *testing.T) {
	r := newTestResolver(static(nil, errors.New("should not be called")))

	ip, err := r.Lookup(context.Background(), "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestLookupFallsBackToFirstPublicAnswer(t *testing.T) {
	r := newTestResolver(
		static(nil, errors.New("no such host")),
		static(nil, errors.New("refused")),
		blocking,
		static([]string{"203.0.113.9"}, nil),
	)

	ip, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestLookupAllServersFail(t *testing.T) {
	r := newTestResolver(
		static(nil, errors.New("no such host")),
		static(nil, errors.New("refused")),
		static([]string{}, nil),
	)

	_, err := r.Lookup(context.Background(), "relay.example.com")
	assert.ErrorContains(t, err, "all 2 public DNS servers failed")
}

func TestLookupTimesOut(t *testing.T) {
	r := newTestResolver(static(nil, errors.New("no such host")), blocking)

	_, err := r.Lookup(context.Background(), "relay.example.com")
	assert.ErrorContains(t, err, "timed out")
}
