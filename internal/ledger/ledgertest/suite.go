// Package ledgertest 提供 ledger.UsageLedger 实现共用的契约测试。
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

// NewLicense 构造一条测试用的许可证
func NewLicense(keyHash, product string) *model.License {
	owner := int64(42)
	name := "owner"
	return &model.License{
		KeyHash:        keyHash,
		Product:        product,
		Description:    "test license",
		OwnerSnowflake: &owner,
		OwnerName:      &name,
		Plan:           "Basic",
		LatestVersion:  "1.0",
		IPs:            model.StringSet{},
		HWIDs:          model.StringSet{},
		IPLimit:        2,
		HWIDLimit:      2,
		Duration:       model.PermanentDuration,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

// Run 对 newLedger 返回的全新实例执行契约测试
func Run(t *testing.T, newLedger func(t *testing.T) ledger.UsageLedger) {
	t.Run("insert_find", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))

		found, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		assert.Equal(t, "hash-a", found.KeyHash)
		assert.Equal(t, "Example", found.Product)
		assert.Equal(t, "test license", found.Description)
		require.NotNil(t, found.OwnerSnowflake)
		assert.EqualValues(t, 42, *found.OwnerSnowflake)
		assert.Equal(t, model.PermanentDuration, found.Duration)
		assert.Nil(t, found.LastUsedAt)
		assert.Zero(t, found.Uses)
	})

	t.Run("find_is_scoped_by_product", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))
		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Other")))

		_, err := l.Find(ctx, "hash-a", "Missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		_, err = l.Find(ctx, "hash-b", "Example")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("insert_duplicate", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))
		assert.ErrorIs(t, l.Insert(ctx, NewLicense("hash-a", "Example")), ledger.ErrDuplicate)
	})

	t.Run("save_round_trip", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))

		found, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		require.NoError(t, found.Use("ip-hash", "A-B-C-D"))
		require.NoError(t, l.Save(ctx, found))

		again, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		assert.EqualValues(t, 1, again.Uses)
		assert.Equal(t, model.StringSet{"ip-hash"}, again.IPs)
		assert.Equal(t, model.StringSet{"A-B-C-D"}, again.HWIDs)
		require.NotNil(t, again.LastUsedAt)
		assert.Equal(t, found.Revision, again.Revision)
	})

	t.Run("save_stale_revision_conflicts", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))

		first, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		second, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)

		require.NoError(t, first.Use("ip-1", "A-B-C-1"))
		require.NoError(t, l.Save(ctx, first))

		require.NoError(t, second.Use("ip-2", "A-B-C-2"))
		assert.ErrorIs(t, l.Save(ctx, second), ledger.ErrConflict)

		current, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		assert.EqualValues(t, 1, current.Uses)
		assert.Equal(t, model.StringSet{"ip-1"}, current.IPs)
	})

	t.Run("save_missing_conflicts", func(t *testing.T) {
		l := newLedger(t)
		assert.ErrorIs(t, l.Save(context.Background(), NewLicense("nope", "Example")), ledger.ErrConflict)
	})

	t.Run("concurrent_saves_serialize", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		license := NewLicense("hash-a", "Example")
		license.IPLimit = 100
		license.HWIDLimit = 100
		require.NoError(t, l.Insert(ctx, license))

		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for {
					current, err := l.Find(ctx, "hash-a", "Example")
					if !assert.NoError(t, err) {
						return
					}
					if !assert.NoError(t, current.Use(fmt.Sprintf("ip-%d", i), fmt.Sprintf("A-B-C-%d", i))) {
						return
					}
					err = l.Save(ctx, current)
					if err == nil {
						return
					}
					if !assert.ErrorIs(t, err, ledger.ErrConflict) {
						return
					}
				}
			}(i)
		}
		wg.Wait()

		final, err := l.Find(ctx, "hash-a", "Example")
		require.NoError(t, err)
		assert.EqualValues(t, workers, final.Uses)
		assert.Len(t, final.IPs, workers)
	})

	t.Run("delete", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))

		require.NoError(t, l.Delete(ctx, "hash-a", "Example"))
		_, err := l.Find(ctx, "hash-a", "Example")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.ErrorIs(t, l.Delete(ctx, "hash-a", "Example"), ledger.ErrNotFound)
	})

	t.Run("count_by_product", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, NewLicense("hash-a", "Example")))
		require.NoError(t, l.Insert(ctx, NewLicense("hash-b", "Example")))
		require.NoError(t, l.Insert(ctx, NewLicense("hash-c", "Other")))

		counts, err := l.CountByProduct(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"Example": 2, "Other": 1}, counts)
	})
}
