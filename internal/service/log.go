package service

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/model"
)

// OperationLogService 记录和查询管理员操作
type OperationLogService struct {
	db *gorm.DB
}

func NewOperationLogService(db *gorm.DB) *OperationLogService {
	return &OperationLogService{db: db}
}

func (s *OperationLogService) LogOperation(ctx context.Context, userID uint, action, product string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	log := &model.OperationLog{
		UserID:    userID,
		Action:    action,
		Product:   product,
		Details:   string(detailsJSON),
		CreatedAt: time.Now(),
	}

	return s.db.WithContext(ctx).Create(log).Error
}

// 获取操作日志列表
func (s *OperationLogService) GetOperationLogs(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.list(s.db.WithContext(ctx).Model(&model.OperationLog{}), page, pageSize)
}

// 获取用户的操作日志
func (s *OperationLogService) GetUserOperationLogs(ctx context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.list(s.db.WithContext(ctx).Model(&model.OperationLog{}).Where("user_id = ?", userID), page, pageSize)
}

func (s *OperationLogService) list(db *gorm.DB, page, pageSize int) ([]model.OperationLog, int64, error) {
	var logs []model.OperationLog
	var total int64

	if page < 1 {
		page = 1
	}

	// 获取总数
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 获取分页数据
	offset := (page - 1) * pageSize
	if err := db.Session(&gorm.Session{}).Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
