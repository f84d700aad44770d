package invoicing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const vatKeyPrefix = "meridian:vat_rate:"

// RateSource looks up the VAT rate of an invoice from the tax-line table.
type RateSource interface {
	InvoiceVATRate(ctx context.Context, docNumber string) (float64, error)
}

// VATResolver resolves per-invoice VAT rates with a Redis cache in front of
// the tax-line table. Concurrent lookups for the same invoice are collapsed.
type VATResolver struct {
	source RateSource
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewVATResolver constructs a resolver. A nil Redis client disables caching.
func NewVATResolver(source RateSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *VATResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &VATResolver{source: source, client: client, ttl: ttl, logger: logger}
}

// Rate returns the VAT rate (percent) for an invoice.
func (v *VATResolver) Rate(ctx context.Context, docNumber string) (float64, error) {
	if v.client != nil {
		val, err := v.client.Get(ctx, vatKeyPrefix+docNumber).Result()
		if err == nil {
			if rate, parseErr := strconv.ParseFloat(val, 64); parseErr == nil {
				return rate, nil
			}
		} else if err != redis.Nil {
			v.logger.Warn("vat cache read", slog.String("invoice", docNumber), slog.Any("error", err))
		}
	}

	res, err, _ := v.group.Do(docNumber, func() (interface{}, error) {
		rate, err := v.source.InvoiceVATRate(ctx, docNumber)
		if err != nil {
			return 0.0, err
		}
		if v.client != nil {
			if err := v.client.Set(ctx, vatKeyPrefix+docNumber, strconv.FormatFloat(rate, 'f', -1, 64), v.ttl).Err(); err != nil {
				v.logger.Warn("vat cache write", slog.String("invoice", docNumber), slog.Any("error", err))
			}
		}
		return rate, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(float64), nil
}

// Ratio returns the VAT rate expressed as a fraction (e.g. 15% -> 0.15).
func (v *VATResolver) Ratio(ctx context.Context, docNumber string) (float64, error) {
	rate, err := v.Rate(ctx, docNumber)
	if err != nil {
		return 0, err
	}
	return rate / 100, nil
}
