package model

import "time"

// OperationLog 管理员操作日志
type OperationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id"`
	Action    string    `json:"action"`
	Product   string    `json:"product"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
