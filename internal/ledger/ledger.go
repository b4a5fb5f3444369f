// Package ledger 定义许可证持久化的契约。
//
// Save 必须是以 Revision 为版本号的比较并交换：只有当存储中的版本与传入记录的版本一致时才写入，
// 写入后版本号加一；否则返回 ErrConflict，调用方需要重新读取后再决策。
package ledger

import (
	"context"
	"errors"

	"github.com/Rainnny7/LicenseServer/internal/model"
)

var (
	ErrNotFound  = errors.New("license not found")
	ErrConflict  = errors.New("license was modified concurrently")
	ErrDuplicate = errors.New("license already exists")
)

type UsageLedger interface {
	Find(ctx context.Context, keyHash, product string) (*model.License, error)
	Insert(ctx context.Context, license *model.License) error
	Save(ctx context.Context, license *model.License) error
	Delete(ctx context.Context, keyHash, product string) error
	CountByProduct(ctx context.Context) (map[string]int64, error)
}
