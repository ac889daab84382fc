package models

import "time"

// DirectMessage 代表一条一对一聊天消息。isRead/readAt 支撑已读回执：
// mark_read 会把 (sender, reader) 之间所有未读行翻转为已读。
type DirectMessage struct {
	BaseModel
	SenderID   uint       `gorm:"index;not null" json:"senderId"`
	ReceiverID uint       `gorm:"index;not null" json:"receiverId"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	IsRead     bool       `gorm:"default:false;index" json:"isRead"`
	ReadAt     *time.Time `json:"readAt,omitempty"`

	// 关联关系
	Sender   User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Receiver User `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
}

// TableName 指定 DirectMessage 模型的表名。
func (DirectMessage) TableName() string {
	return "messages"
}

// ChannelKind distinguishes persisted group and room messages. Groups are
// durable membership sets in the database; rooms are ephemeral sets owned
// by the presence registry. Their stored message shape is identical.
type ChannelKind string

const (
	GroupChannel ChannelKind = "group"
	RoomChannel  ChannelKind = "room"
)

// ChannelMessage 代表一条群组或房间消息。ChannelID 对群组是数字组 ID，
// 对房间是规范化后的房间字符串 ID。
type ChannelMessage struct {
	BaseModel
	SenderID    uint        `gorm:"index;not null" json:"senderId"`
	ChannelKind ChannelKind `gorm:"type:varchar(10);not null;index:idx_channel" json:"channelKind"`
	ChannelID   string      `gorm:"type:varchar(100);not null;index:idx_channel" json:"channelId"`
	Content     string      `gorm:"type:text;not null" json:"content"`

	// 关联关系
	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// TableName 指定 ChannelMessage 模型的表名。
func (ChannelMessage) TableName() string {
	return "channel_messages"
}
