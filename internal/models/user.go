package models

import "time"

// User 代表系统中的用户。用户注册和凭证签发由外部服务负责，
// 聊天核心只读取这张表来解析消息目标和 sender 预览信息。
type User struct {
	BaseModel
	Username   string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Email      string     `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"`
	Nickname   string     `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL  string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Status     string     `gorm:"type:varchar(20);default:'offline'" json:"status,omitempty"` // online, offline
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`

	// 关联关系
	Messages   []DirectMessage `gorm:"foreignKey:SenderID" json:"messages,omitempty"`
	UserGroups []*Group        `gorm:"many2many:group_members;" json:"userGroups,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}
