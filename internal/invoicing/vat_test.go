package invoicing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingRateSource struct {
	mu    sync.Mutex
	rates map[string]float64
	calls int
}

func (s *countingRateSource) InvoiceVATRate(ctx context.Context, docNumber string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rates[docNumber], nil
}

func newTestResolver(t *testing.T, source RateSource) (*VATResolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVATResolver(source, client, 10*time.Minute, nil), mr
}

func TestVATResolverCachesPerInvoice(t *testing.T) {
	ctx := context.Background()
	source := &countingRateSource{rates: map[string]float64{"INV-001": 15}}
	resolver, _ := newTestResolver(t, source)

	rate, err := resolver.Rate(ctx, "INV-001")
	require.NoError(t, err)
	require.Equal(t, 15.0, rate)

	rate, err = resolver.Rate(ctx, "INV-001")
	require.NoError(t, err)
	require.Equal(t, 15.0, rate)

	require.Equal(t, 1, source.calls)
}

func TestVATResolverRatio(t *testing.T) {
	ctx := context.Background()
	source := &countingRateSource{rates: map[string]float64{"INV-002": 15}}
	resolver, _ := newTestResolver(t, source)

	ratio, err := resolver.Ratio(ctx, "INV-002")
	require.NoError(t, err)
	require.Equal(t, 0.15, ratio)
}

func TestVATResolverDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	source := &countingRateSource{rates: map[string]float64{}}
	resolver, _ := newTestResolver(t, source)

	rate, err := resolver.Rate(ctx, "INV-UNKNOWN")
	require.NoError(t, err)
	require.Zero(t, rate)
}

func TestVATResolverWorksWithoutRedis(t *testing.T) {
	ctx := context.Background()
	source := &countingRateSource{rates: map[string]float64{"INV-003": 5}}
	resolver := NewVATResolver(source, nil, time.Minute, nil)

	rate, err := resolver.Rate(ctx, "INV-003")
	require.NoError(t, err)
	require.Equal(t, 5.0, rate)

	rate, err = resolver.Rate(ctx, "INV-003")
	require.NoError(t, err)
	require.Equal(t, 5.0, rate)
	require.Equal(t, 2, source.calls)
}

func TestVATResolverExpiredEntryRefetches(t *testing.T) {
	ctx := context.Background()
	source := &countingRateSource{rates: map[string]float64{"INV-004": 10}}
	resolver, mr := newTestResolver(t, source)

	_, err := resolver.Rate(ctx, "INV-004")
	require.NoError(t, err)

	mr.FastForward(time.Hour)

	_, err = resolver.Rate(ctx, "INV-004")
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}
