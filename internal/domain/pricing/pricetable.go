package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
)

// ServicePrice is one row of the clinic's medical service price list.
type ServicePrice struct {
	ServiceCode string          `json:"service_code" yaml:"code"`
	ServiceName string          `json:"service_name" yaml:"name"`
	Price       decimal.Decimal `json:"price" yaml:"price"`
}

// PriceTable is a read-only lookup of catalogue prices.
type PriceTable interface {
	Lookup(ctx context.Context, serviceCode string) (ServicePrice, error)
}

// StaticPriceTable is an in-memory PriceTable keyed by service code.
type StaticPriceTable map[string]ServicePrice

func (t StaticPriceTable) Lookup(_ context.Context, serviceCode string) (ServicePrice, error) {
	sp, ok := t[serviceCode]
	if !ok {
		return ServicePrice{}, fmt.Errorf("%w: %s", ErrUnknownService, serviceCode)
	}
	return sp, nil
}

// =========== Postgres price table ===========

type priceTableRepoPG struct{ pool *pgxpool.Pool }

// NewPriceTableRepoPG reads active rows of medical_service_prices.
func NewPriceTableRepoPG(pool *pgxpool.Pool) PriceTable { return &priceTableRepoPG{pool: pool} }

func (r *priceTableRepoPG) Lookup(ctx context.Context, serviceCode string) (ServicePrice, error) {
	var sp ServicePrice
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT service_code, service_name, price
		FROM medical_service_prices
		WHERE service_code = $1 AND active`, serviceCode).
		Scan(&sp.ServiceCode, &sp.ServiceName, &sp.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServicePrice{}, fmt.Errorf("%w: %s", ErrUnknownService, serviceCode)
	}
	return sp, err
}

// UpsertPrices writes price list rows, used by the import command.
func UpsertPrices(ctx context.Context, q db.Queryable, prices []ServicePrice) (int, error) {
	n := 0
	for _, p := range prices {
		if p.ServiceCode == "" {
			return n, fmt.Errorf("price row %d: code is required", n+1)
		}
		if p.Price.IsNegative() {
			return n, fmt.Errorf("price row %s: %w", p.ServiceCode, ErrInvalidPrice)
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO medical_service_prices (service_code, service_name, price, active)
			VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (service_code) DO UPDATE
			SET service_name = EXCLUDED.service_name, price = EXCLUDED.price, active = TRUE, updated_at = NOW()`,
			p.ServiceCode, p.ServiceName, RoundMoney(p.Price)); err != nil {
			return n, fmt.Errorf("upsert %s: %w", p.ServiceCode, err)
		}
		n++
	}
	return n, nil
}

// =========== Cached price table ===========

// PriceCache is the subset of platform/cache used by CachedPriceTable.
type PriceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CachedPriceTable reads through a cache in front of another PriceTable.
// Keys are scoped by clinic. Misses and cache failures fall through to the
// wrapped table.
type CachedPriceTable struct {
	next  PriceTable
	cache PriceCache
	ttl   time.Duration
}

func NewCachedPriceTable(next PriceTable, cache PriceCache, ttl time.Duration) *CachedPriceTable {
	return &CachedPriceTable{next: next, cache: cache, ttl: ttl}
}

func priceKey(clinic, serviceCode string) string {
	return "price:" + clinic + ":" + serviceCode
}

func (t *CachedPriceTable) Lookup(ctx context.Context, serviceCode string) (ServicePrice, error) {
	key := priceKey(db.TenantFromContext(ctx), serviceCode)
	var sp ServicePrice
	if err := t.cache.Get(ctx, key, &sp); err == nil {
		return sp, nil
	}

	sp, err := t.next.Lookup(ctx, serviceCode)
	if err != nil {
		return ServicePrice{}, err
	}
	_ = t.cache.Set(ctx, key, sp, t.ttl)
	return sp, nil
}

// PriceEvicter removes cached entries.
type PriceEvicter interface {
	Delete(ctx context.Context, keys ...string) error
}

// EvictPrices drops the cached entries of one clinic's service codes so
// servers sharing the cache quote the new prices on their next lookup.
func EvictPrices(ctx context.Context, cache PriceEvicter, clinic string, prices []ServicePrice) error {
	if len(prices) == 0 {
		return nil
	}
	keys := make([]string, 0, len(prices))
	for _, p := range prices {
		keys = append(keys, priceKey(clinic, p.ServiceCode))
	}
	return cache.Delete(ctx, keys...)
}
