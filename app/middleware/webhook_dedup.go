package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

// Deduper tracks webhook deliveries already answered. It is an optimization
// only: the reconciliation engine is idempotent, so losing dedup state never
// corrupts anything, it just costs a redundant pass through the engine.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => key already existed => duplicate
	return !ok, nil
}

type memoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryDeduper(ttl time.Duration) *memoryDeduper {
	now := time.Now()
	return &memoryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewDeduper builds a Redis-backed deduper and falls back to in-memory when
// no address is configured or Redis is unreachable. The error is returned
// alongside the fallback so the caller can log the degradation.
func NewDeduper(addr, password string, db int, ttl time.Duration) (Deduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if addr == "" {
		return newMemoryDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryDeduper(ttl), err
	}

	return &redisDeduper{
		client: client,
		prefix: "paygate:webhook",
		ttl:    ttl,
	}, nil
}

// WebhookDedup short-circuits redelivered webhook payloads by provider plus
// payload digest. Duplicates get the same 200 acknowledgment the original
// delivery got, so providers stop retrying. Any dedup trouble fails open.
func WebhookDedup(deduper Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if deduper == nil {
				return next(ctx)
			}

			req := ctx.Request()
			if req.Body == nil {
				return next(ctx)
			}

			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(ctx)
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			if len(rawBody) == 0 {
				return next(ctx)
			}

			provider := ctx.Param("provider")
			if provider == "" {
				return next(ctx)
			}

			digest := sha256.Sum256(rawBody)
			key := provider + ":" + hex.EncodeToString(digest[:])

			isDuplicate, err := deduper.Seen(req.Context(), key)
			if err != nil {
				return next(ctx)
			}
			if isDuplicate {
				return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Status: "ok"})
			}

			return next(ctx)
		}
	}
}
