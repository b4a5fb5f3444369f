package model

import "time"

// DailyUsage 每日校验统计
type DailyUsage struct {
	Date        time.Time `json:"date"`
	TotalChecks int       `json:"total_checks"`
	Successful  int       `json:"successful"`
}

// LicenseStatistics 许可证统计信息
type LicenseStatistics struct {
	TotalLicenses     int64            `json:"total_licenses"`
	TotalChecks       int64            `json:"total_checks"`
	SuccessfulChecks  int64            `json:"successful_checks"`
	LicensesByProduct map[string]int64 `json:"licenses_by_product"`
	ChecksByAction    map[string]int64 `json:"checks_by_action"`
	DailyUsage        []DailyUsage     `json:"daily_usage"`
}

// GetSuccessRate 计算校验成功率
func (ls *LicenseStatistics) GetSuccessRate() float64 {
	if ls.TotalChecks == 0 {
		return 0
	}
	return float64(ls.SuccessfulChecks) / float64(ls.TotalChecks)
}

// GetUsageByProduct 获取指定产品的许可证数量
func (ls *LicenseStatistics) GetUsageByProduct(product string) int64 {
	if count, ok := ls.LicensesByProduct[product]; ok {
		return count
	}
	return 0
}

// GetDailyUsageByDate 获取指定日期的使用统计
func (ls *LicenseStatistics) GetDailyUsageByDate(date time.Time) *DailyUsage {
	for _, usage := range ls.DailyUsage {
		if usage.Date.Year() == date.Year() &&
			usage.Date.Month() == date.Month() &&
			usage.Date.Day() == date.Day() {
			return &usage
		}
	}
	return nil
}
