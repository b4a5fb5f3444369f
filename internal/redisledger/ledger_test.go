package redisledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/ledger/ledgertest"
)

func newTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test"), mr
}

func TestRedisLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.UsageLedger {
		l, _ := newTestLedger(t)
		return l
	})
}

func TestRedisLedgerKeyLayout(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Insert(ctx, ledgertest.NewLicense("hash-a", "Example")))

	assert.True(t, mr.Exists("test:lic:Example:hash-a"))
	assert.Equal(t, "1", mr.HGet("test:counts", "Example"))

	require.NoError(t, l.Delete(ctx, "hash-a", "Example"))
	counts, err := l.CountByProduct(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestRedisLedgerCorruptRecord(t *testing.T) {
	l, mr := newTestLedger(t)
	require.NoError(t, mr.Set("test:lic:Example:hash-a", "{not json"))

	_, err := l.Find(context.Background(), "hash-a", "Example")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrNotFound)
}

func TestNewRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)

	l, err := NewRedisLedger("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, defaultPrefix, l.prefix)

	_, err = NewRedisLedger("://bad", "")
	assert.Error(t, err)
}
