package storage

import (
	"context"

	"gorm.io/gorm"

	"edchat/internal/models"
)

// GroupRepository 定义了群组数据操作的接口。group_message 扇出时
// 通过 MemberIDs 解析目标集合。
type GroupRepository interface {
	Exists(ctx context.Context, id uint) (bool, error)
	// MemberIDs 返回群组全部成员的用户 ID。
	MemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	// IsMember 报告用户是否是群组成员。
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	// GroupIDsFor 返回用户所属的全部群组 ID，认证时装入会话。
	GroupIDsFor(ctx context.Context, userID uint) ([]uint, error)
}

// gormGroupRepository 使用 GORM 实现 GroupRepository。
type gormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository 创建一个新的基于 GORM 的 GroupRepository。
func NewGormGroupRepository(db *gorm.DB) GroupRepository {
	return &gormGroupRepository{db: db}
}

// Exists 检查群组是否存在。
func (r *gormGroupRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MemberIDs 返回群组成员的用户 ID 列表。
func (r *gormGroupRepository) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GroupIDsFor 返回用户所属群组的 ID 列表。
func (r *gormGroupRepository) GroupIDsFor(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsMember 检查用户是否在群组中。
func (r *gormGroupRepository) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
