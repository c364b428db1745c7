// Package cache keeps short-lived Redis snapshots of class offerings for the
// read endpoints. Snapshots may be stale; the settlement path never reads them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codelab.org/internal/enrollment"
	"codelab.org/internal/obs"
)

const invalidateTimeout = 2 * time.Second

// NewClient dials lazily; a down Redis only costs cache misses.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// Offerings is a read-through enrollment.Catalog. Any Redis failure falls
// through to the wrapped catalog.
type Offerings struct {
	next enrollment.Catalog
	rdb  redis.Cmdable
	ttl  time.Duration
}

var (
	_ enrollment.Catalog  = (*Offerings)(nil)
	_ enrollment.Observer = (*Offerings)(nil)
)

func New(next enrollment.Catalog, rdb redis.Cmdable, ttl time.Duration) *Offerings {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Offerings{next: next, rdb: rdb, ttl: ttl}
}

func (o *Offerings) GetOffering(ctx context.Context, id string) (enrollment.ClassOffering, error) {
	key := fmt.Sprintf(KeyOffering, id)
	var cached enrollment.ClassOffering
	if o.load(ctx, key, &cached) {
		return cached, nil
	}
	off, err := o.next.GetOffering(ctx, id)
	if err != nil {
		return enrollment.ClassOffering{}, err
	}
	o.store(ctx, key, off)
	return off, nil
}

func (o *Offerings) ListOfferings(ctx context.Context, instructorEmail string) ([]enrollment.ClassOffering, error) {
	gen, err := o.rdb.Get(ctx, KeyListGeneration).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		o.warn("cache_generation_failed", err)
		return o.next.ListOfferings(ctx, instructorEmail)
	}
	key := fmt.Sprintf(KeyOfferingList, gen, instructorEmail)
	var cached []enrollment.ClassOffering
	if o.load(ctx, key, &cached) {
		return cached, nil
	}
	list, err := o.next.ListOfferings(ctx, instructorEmail)
	if err != nil {
		return nil, err
	}
	o.store(ctx, key, list)
	return list, nil
}

// Settled drops the offering snapshot and rolls list snapshots over. It runs
// detached so the settlement response is not held up by Redis.
func (o *Offerings) Settled(ctx context.Context, res enrollment.SettlementResult) {
	if res.SeatUpdate == nil {
		return
	}
	id := res.SeatUpdate.ClassOfferingID
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
		defer cancel()
		o.Invalidate(ctx, id)
	}()
}

// Invalidate removes cached state for one offering.
func (o *Offerings) Invalidate(ctx context.Context, id string) {
	if err := o.rdb.Del(ctx, fmt.Sprintf(KeyOffering, id)).Err(); err != nil {
		o.warn("cache_invalidate_failed", err)
	}
	if err := o.rdb.Incr(ctx, KeyListGeneration).Err(); err != nil {
		o.warn("cache_invalidate_failed", err)
	}
}

func (o *Offerings) load(ctx context.Context, key string, dst any) bool {
	raw, err := o.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		o.warn("cache_read_failed", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		o.warn("cache_decode_failed", err)
		return false
	}
	return true
}

func (o *Offerings) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := o.rdb.Set(ctx, key, raw, o.ttl).Err(); err != nil {
		o.warn("cache_write_failed", err)
	}
}

func (o *Offerings) warn(msg string, err error) {
	obs.Warn(msg, map[string]any{"error": err.Error()})
}
