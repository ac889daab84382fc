package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

// BaseModel 是所有持久化模型的公共字段：自增主键、时间戳与软删除标记。
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
}

// IDString 返回线格式的 ID。协议层所有 ID 以十进制字符串传输。
func (b *BaseModel) IDString() string {
	return strconv.FormatUint(uint64(b.ID), 10)
}
