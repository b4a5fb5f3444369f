package notify

import (
	"context"

	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/model"
)

// AuditNotifier 把每个事件记录到 license_usages 表，供使用记录和统计查询
type AuditNotifier struct {
	db *gorm.DB
}

func NewAuditNotifier(db *gorm.DB) *AuditNotifier {
	return &AuditNotifier{db: db}
}

func (n *AuditNotifier) Notify(ctx context.Context, e Event) error {
	usage := &model.LicenseUsage{
		KeyHash:   e.KeyHash,
		Product:   e.Product,
		Action:    string(e.Type),
		IPHash:    e.IPHash,
		HWID:      e.HWID,
		UserAgent: e.UserAgent,
		Timestamp: e.Time,
	}
	return n.db.WithContext(ctx).Create(usage).Error
}
