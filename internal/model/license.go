package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

var (
	ErrIPLimitExceeded   = errors.New("license ip limit exceeded")
	ErrHWIDLimitExceeded = errors.New("license hwid limit exceeded")
)

// PermanentDuration 表示永久许可证，任何负数时长都视为永久
const PermanentDuration int64 = -1

// 超过该秒数的时长换算成 time.Duration 会溢出，按永不过期处理
const maxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

// StringSet 无序且不重复的字符串集合，以 JSON 数组文本落库
type StringSet []string

func (s StringSet) Contains(v string) bool {
	return slices.Contains(s, v)
}

// Add 添加元素，已存在时返回 false
func (s *StringSet) Add(v string) bool {
	if s.Contains(v) {
		return false
	}
	*s = append(*s, v)
	return true
}

func (StringSet) GormDataType() string {
	return "text"
}

func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSet", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if out == nil {
		out = []string{}
	}
	*s = out
	return nil
}

// License 许可证，以 (KeyHash, Product) 唯一标识
type License struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	KeyHash        string     `json:"key_hash" gorm:"column:key_hash;not null;uniqueIndex:idx_license_identity"`
	Product        string     `json:"product" gorm:"column:product;not null;uniqueIndex:idx_license_identity"`
	Description    string     `json:"description" gorm:"column:description"`
	OwnerSnowflake *int64     `json:"owner_snowflake" gorm:"column:owner_snowflake"`
	OwnerName      *string    `json:"owner_name" gorm:"column:owner_name"`
	Plan           string     `json:"plan" gorm:"column:plan"`
	LatestVersion  string     `json:"latest_version" gorm:"column:latest_version"`
	Uses           int64      `json:"uses" gorm:"column:uses;not null"`
	IPs            StringSet  `json:"ips" gorm:"column:ips;type:text"`
	HWIDs          StringSet  `json:"hwids" gorm:"column:hwids;type:text"`
	IPLimit        int        `json:"ip_limit" gorm:"column:ip_limit;not null"`
	HWIDLimit      int        `json:"hwid_limit" gorm:"column:hwid_limit;not null"`
	Duration       int64      `json:"duration" gorm:"column:duration;not null"`
	LastUsedAt     *time.Time `json:"last_used_at" gorm:"column:last_used_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"column:updated_at"`
	Revision       int64      `json:"revision" gorm:"column:revision;not null"`
}

// IsPermanent 没有过期时间的许可证
func (l *License) IsPermanent() bool {
	return l.Duration < 0 || l.Duration >= maxDurationSeconds
}

// ExpiresAt 由创建时间和时长推导出的过期时间，永久许可证返回 nil
func (l *License) ExpiresAt() *time.Time {
	if l.IsPermanent() {
		return nil
	}
	t := l.CreatedAt.Add(time.Duration(l.Duration) * time.Second)
	return &t
}

func (l *License) HasExpired() bool {
	return l.HasExpiredAt(time.Now())
}

// HasExpiredAt 自创建起经过的时间 >= 时长即视为过期
func (l *License) HasExpiredAt(now time.Time) bool {
	expires := l.ExpiresAt()
	if expires == nil {
		return false
	}
	return !now.Before(*expires)
}

func (l *License) IsOwner(snowflake int64) bool {
	return l.OwnerSnowflake != nil && *l.OwnerSnowflake == snowflake
}

func (l *License) Use(ipHash, hwid string) error {
	return l.UseAt(ipHash, hwid, time.Now())
}

// UseAt 记录一次使用。两个限额都先检查再修改，失败时状态不变；IP 限额优先报告
func (l *License) UseAt(ipHash, hwid string, now time.Time) error {
	if !l.IPs.Contains(ipHash) && len(l.IPs) >= l.IPLimit {
		return ErrIPLimitExceeded
	}
	if !l.HWIDs.Contains(hwid) && len(l.HWIDs) >= l.HWIDLimit {
		return ErrHWIDLimitExceeded
	}

	l.Uses++
	l.IPs.Add(ipHash)
	l.HWIDs.Add(hwid)
	usedAt := now
	l.LastUsedAt = &usedAt
	return nil
}

// LicenseView 校验成功后返回给客户端的只读视图
type LicenseView struct {
	Description    string     `json:"description"`
	OwnerSnowflake *int64     `json:"ownerSnowflake"`
	OwnerName      *string    `json:"ownerName"`
	Plan           string     `json:"plan"`
	LatestVersion  string     `json:"latestVersion"`
	Duration       int64      `json:"duration"`
	Expires        *time.Time `json:"expires"`
}

func (l *License) View() LicenseView {
	return LicenseView{
		Description:    l.Description,
		OwnerSnowflake: l.OwnerSnowflake,
		OwnerName:      l.OwnerName,
		Plan:           l.Plan,
		LatestVersion:  l.LatestVersion,
		Duration:       l.Duration,
		Expires:        l.ExpiresAt(),
	}
}

// LicenseDetails 管理员查询许可证时的详情，只包含集合数量不包含具体的 IP/HWID
type LicenseDetails struct {
	Product        string     `json:"product"`
	Description    string     `json:"description"`
	OwnerSnowflake *int64     `json:"owner_snowflake"`
	OwnerName      *string    `json:"owner_name"`
	Plan           string     `json:"plan"`
	LatestVersion  string     `json:"latest_version"`
	Uses           int64      `json:"uses"`
	IPCount        int        `json:"ip_count"`
	IPLimit        int        `json:"ip_limit"`
	HWIDCount      int        `json:"hwid_count"`
	HWIDLimit      int        `json:"hwid_limit"`
	Duration       int64      `json:"duration"`
	Expires        *time.Time `json:"expires"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (l *License) Details() LicenseDetails {
	return LicenseDetails{
		Product:        l.Product,
		Description:    l.Description,
		OwnerSnowflake: l.OwnerSnowflake,
		OwnerName:      l.OwnerName,
		Plan:           l.Plan,
		LatestVersion:  l.LatestVersion,
		Uses:           l.Uses,
		IPCount:        len(l.IPs),
		IPLimit:        l.IPLimit,
		HWIDCount:      len(l.HWIDs),
		HWIDLimit:      l.HWIDLimit,
		Duration:       l.Duration,
		Expires:        l.ExpiresAt(),
		LastUsedAt:     l.LastUsedAt,
		CreatedAt:      l.CreatedAt,
	}
}
