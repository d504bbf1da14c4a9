package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const tenantKeyPrefix = "portal:tenant:"

// TenantCache caches tenants by domain. Redis failures are logged and
// treated as misses so requests fall through to the database.
type TenantCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewTenantCache(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantCache{rdb: rdb, ttl: ttl, logger: logger}
}

func tenantKey(domainName string) string {
	return tenantKeyPrefix + strings.ToLower(domainName)
}

func (c *TenantCache) Get(ctx context.Context, domainName string) (*domain.Tenant, bool) {
	raw, err := c.rdb.Get(ctx, tenantKey(domainName)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("tenant cache read failed", "domain", domainName, "error", err)
		}
		return nil, false
	}
	var t domain.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		c.logger.Warn("dropping corrupt tenant cache entry", "domain", domainName, "error", err)
		c.Delete(ctx, domainName)
		return nil, false
	}
	return &t, true
}

func (c *TenantCache) Set(ctx context.Context, t *domain.Tenant) {
	raw, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("tenant cache encode failed", "tenant_id", t.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, tenantKey(t.Domain), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("tenant cache write failed", "domain", t.Domain, "error", err)
	}
}

func (c *TenantCache) Delete(ctx context.Context, domainName string) {
	if err := c.rdb.Del(ctx, tenantKey(domainName)).Err(); err != nil {
		c.logger.Warn("tenant cache delete failed", "domain", domainName, "error", err)
	}
}
