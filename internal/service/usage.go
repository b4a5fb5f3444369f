package service

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/model"
	"github.com/Rainnny7/LicenseServer/internal/notify"
)

const maxUsageHistory = 100

// UsageService 查询审计表中的使用记录和统计
type UsageService struct {
	db       *gorm.DB
	licenses *LicenseService
}

func NewUsageService(db *gorm.DB, licenses *LicenseService) *UsageService {
	return &UsageService{db: db, licenses: licenses}
}

// History 某个许可证最近的校验记录，按时间倒序
func (u *UsageService) History(ctx context.Context, rawKey, product string, limit int) ([]model.LicenseUsage, error) {
	if limit <= 0 || limit > maxUsageHistory {
		limit = 20
	}
	keyHash := u.licenses.hasher.License(rawKey)

	var usages []model.LicenseUsage
	err := u.db.WithContext(ctx).
		Where("key_hash = ? AND product = ?", keyHash, product).
		Order("timestamp desc").
		Limit(limit).
		Find(&usages).Error
	if err != nil {
		return nil, &PersistenceError{Op: "find", Err: err}
	}
	return usages, nil
}

// Statistics 汇总 [start, end] 区间内的校验情况
func (u *UsageService) Statistics(ctx context.Context, start, end time.Time) (*model.LicenseStatistics, error) {
	counts, err := u.licenses.CountByProduct(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.LicenseStatistics{
		LicensesByProduct: counts,
		ChecksByAction:    make(map[string]int64),
		DailyUsage:        make([]model.DailyUsage, 0),
	}
	for _, n := range counts {
		stats.TotalLicenses += n
	}

	var rows []struct {
		Action    string
		Timestamp time.Time
	}
	err = u.db.WithContext(ctx).Model(&model.LicenseUsage{}).
		Select("action, timestamp").
		Where("timestamp BETWEEN ? AND ?", start.UTC(), end.UTC()).
		Order("timestamp ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, &PersistenceError{Op: "find", Err: err}
	}

	// 按 UTC 日期分组
	byDay := make(map[time.Time]int)
	for _, r := range rows {
		stats.ChecksByAction[r.Action]++
		if !notify.EventType(r.Action).CountsAsCheck() {
			continue
		}
		stats.TotalChecks++

		ts := r.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		idx, ok := byDay[day]
		if !ok {
			idx = len(stats.DailyUsage)
			byDay[day] = idx
			stats.DailyUsage = append(stats.DailyUsage, model.DailyUsage{Date: day})
		}
		stats.DailyUsage[idx].TotalChecks++
		if r.Action == string(notify.EventUsed) {
			stats.DailyUsage[idx].Successful++
			stats.SuccessfulChecks++
		}
	}
	return stats, nil
}
