// Package redisledger 基于 Redis 的许可证存储，多实例部署时共享同一份许可证状态。
//
// 每条许可证以 JSON 存在 {prefix}:lic:{product}:{keyHash}，
// 各产品的许可证数量存在哈希 {prefix}:counts 中。写操作都在 WATCH 事务内完成。
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultPrefix   = "license"
	maxTxAttempts   = 16
)

type RedisLedger struct {
	client *redis.Client
	prefix string
}

var _ ledger.UsageLedger = (*RedisLedger)(nil)

// NewRedisLedger 使用 redis:// URL 构造并检查连接
func NewRedisLedger(url, prefix string) (*RedisLedger, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return New(client, prefix), nil
}

func New(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (l *RedisLedger) licenseKey(keyHash, product string) string {
	return l.prefix + ":lic:" + product + ":" + keyHash
}

func (l *RedisLedger) countsKey() string {
	return l.prefix + ":counts"
}

func (l *RedisLedger) Find(ctx context.Context, keyHash, product string) (*model.License, error) {
	return get(ctx, l.client, l.licenseKey(keyHash, product))
}

func (l *RedisLedger) Insert(ctx context.Context, license *model.License) error {
	if license.CreatedAt.IsZero() {
		license.CreatedAt = time.Now()
	}
	if license.IPs == nil {
		license.IPs = model.StringSet{}
	}
	if license.HWIDs == nil {
		license.HWIDs = model.StringSet{}
	}
	license.Revision = 1
	license.UpdatedAt = license.CreatedAt

	payload, err := json.Marshal(license)
	if err != nil {
		return fmt.Errorf("encode license: %w", err)
	}
	key := l.licenseKey(license.KeyHash, license.Product)

	return l.retryTx(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ledger.ErrDuplicate
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.HIncrBy(ctx, l.countsKey(), license.Product, 1)
			return nil
		})
		return err
	}, key)
}

// Save 在 WATCH 事务中比较 revision，不一致或事务被打断都返回 ErrConflict
func (l *RedisLedger) Save(ctx context.Context, license *model.License) error {
	key := l.licenseKey(license.KeyHash, license.Product)
	now := time.Now()
	next := license.Revision + 1

	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := get(ctx, tx, key)
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.ErrConflict
		}
		if err != nil {
			return err
		}
		if stored.Revision != license.Revision {
			return ledger.ErrConflict
		}

		updated := *license
		updated.ID = stored.ID
		updated.CreatedAt = stored.CreatedAt
		updated.Revision = next
		updated.UpdatedAt = now
		payload, err := json.Marshal(&updated)
		if err != nil {
			return fmt.Errorf("encode license: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ledger.ErrConflict
	}
	if err != nil {
		return err
	}
	license.Revision = next
	license.UpdatedAt = now
	return nil
}

func (l *RedisLedger) Delete(ctx context.Context, keyHash, product string) error {
	key := l.licenseKey(keyHash, product)
	return l.retryTx(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HIncrBy(ctx, l.countsKey(), product, -1)
			return nil
		})
		return err
	}, key)
}

func (l *RedisLedger) CountByProduct(ctx context.Context) (map[string]int64, error) {
	raw, err := l.client.HGetAll(ctx, l.countsKey()).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for product, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count for %q: %w", product, err)
		}
		if n > 0 {
			counts[product] = n
		}
	}
	return counts, nil
}

// retryTx 重试被其他客户端打断的事务，用于没有版本语义的插入和删除
func (l *RedisLedger) retryTx(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := l.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ledger.ErrConflict
}

func get(ctx context.Context, c redis.Cmdable, key string) (*model.License, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var license model.License
	if err := json.Unmarshal(raw, &license); err != nil {
		return nil, fmt.Errorf("decode license %s: %w", key, err)
	}
	if license.IPs == nil {
		license.IPs = model.StringSet{}
	}
	if license.HWIDs == nil {
		license.HWIDs = model.StringSet{}
	}
	return &license, nil
}
