package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"edchat/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。写入假定为原子单行插入；
// 投递协调器在扇出之前必须先等到写入成功。
type MessageRepository interface {
	// CreateDirect 持久化一条一对一消息并回填 Sender 预览。
	CreateDirect(ctx context.Context, message *models.DirectMessage) error
	// CreateChannel 持久化一条群组/房间消息并回填 Sender 预览。
	CreateChannel(ctx context.Context, message *models.ChannelMessage) error
	// MarkRead 把 sender→reader 的所有未读消息翻转为已读，返回受影响行数。
	// 重复调用是幂等的：第二次返回 0 行。
	MarkRead(ctx context.Context, senderID, readerID uint) (int64, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// CreateDirect 在数据库中创建一条新的私聊消息记录。
func (r *gormMessageRepository) CreateDirect(ctx context.Context, message *models.DirectMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return err
	}
	// Preload Sender so the delivery layer can embed the sender preview
	// without a second round trip at fan-out time.
	return r.db.WithContext(ctx).Preload("Sender").First(message, message.ID).Error
}

// CreateChannel 在数据库中创建一条新的群组/房间消息记录。
func (r *gormMessageRepository) CreateChannel(ctx context.Context, message *models.ChannelMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Preload("Sender").First(message, message.ID).Error
}

// MarkRead 批量更新已读状态。
func (r *gormMessageRepository) MarkRead(ctx context.Context, senderID, readerID uint) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	return res.RowsAffected, res.Error
}
