package model

import (
	"time"
)

// LicenseUsage 许可证校验审计记录，每次校验结果一条
type LicenseUsage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	KeyHash   string    `json:"-" gorm:"index:idx_usage_identity"`
	Product   string    `json:"product" gorm:"index:idx_usage_identity"`
	Action    string    `json:"action"` // "license.used", "license.expired", etc.
	IPHash    string    `json:"ip_hash"`
	HWID      string    `json:"hwid"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
}
