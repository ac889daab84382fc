package storage

import (
	"context"

	"gorm.io/gorm"

	"edchat/internal/models"
)

// UserRepository 定义了用户数据操作的接口。聊天核心只读用户表：
// 解析消息目标是否存在，以及维护在线状态标记。
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// Exists 报告用户是否存在，不存在不是错误。
	Exists(ctx context.Context, id uint) (bool, error)
	// UpdateStatus 更新用户的在线状态与最后在线时间。
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// gormUserRepository 使用 GORM 实现 UserRepository。
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建一个新的基于 GORM 的 UserRepository。
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// GetByID 通过ID检索用户。
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Exists 检查用户是否存在。
func (r *gormUserRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateStatus 更新用户状态字段。
func (r *gormUserRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen_at": gorm.Expr("NOW()")}).Error
}
