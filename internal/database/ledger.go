package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

// LicenseLedger 基于 gorm 的许可证存储，Save 以 revision 列做乐观锁
type LicenseLedger struct {
	db *gorm.DB
}

var _ ledger.UsageLedger = (*LicenseLedger)(nil)

func NewLicenseLedger(db *gorm.DB) *LicenseLedger {
	return &LicenseLedger{db: db}
}

func (l *LicenseLedger) Find(ctx context.Context, keyHash, product string) (*model.License, error) {
	var license model.License
	err := l.db.WithContext(ctx).
		Where("key_hash = ? AND product = ?", keyHash, product).
		First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (l *LicenseLedger) Insert(ctx context.Context, license *model.License) error {
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

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.License{}).
			Where("key_hash = ? AND product = ?", license.KeyHash, license.Product).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ledger.ErrDuplicate
		}
		if err := tx.Create(license).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ledger.ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// Save 只有当数据库中的 revision 与 license.Revision 相同时才写入
func (l *LicenseLedger) Save(ctx context.Context, license *model.License) error {
	now := time.Now()
	next := license.Revision + 1

	res := l.db.WithContext(ctx).
		Model(&model.License{}).
		Where("key_hash = ? AND product = ? AND revision = ?", license.KeyHash, license.Product, license.Revision).
		Updates(map[string]any{
			"description":     license.Description,
			"owner_snowflake": license.OwnerSnowflake,
			"owner_name":      license.OwnerName,
			"plan":            license.Plan,
			"latest_version":  license.LatestVersion,
			"uses":            license.Uses,
			"ips":             license.IPs,
			"hwids":           license.HWIDs,
			"ip_limit":        license.IPLimit,
			"hwid_limit":      license.HWIDLimit,
			"duration":        license.Duration,
			"last_used_at":    license.LastUsedAt,
			"updated_at":      now,
			"revision":        next,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.ErrConflict
	}
	license.Revision = next
	license.UpdatedAt = now
	return nil
}

func (l *LicenseLedger) Delete(ctx context.Context, keyHash, product string) error {
	res := l.db.WithContext(ctx).
		Where("key_hash = ? AND product = ?", keyHash, product).
		Delete(&model.License{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (l *LicenseLedger) CountByProduct(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Product string
		Count   int64
	}
	if err := l.db.WithContext(ctx).
		Model(&model.License{}).
		Select("product, count(*) as count").
		Group("product").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Product] = row.Count
	}
	return counts, nil
}
