package models

import "time"

// Group 代表一个持久化的聊天群组。群组的创建和管理属于外部 API，
// 聊天核心只读取成员集合来做 group_message 扇出。
type Group struct {
	BaseModel
	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	AvatarURL   string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	OwnerID     uint   `gorm:"not null" json:"ownerId"`
	MemberCount int    `gorm:"default:0" json:"memberCount"`

	// 关联关系
	Owner   User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// TableName 指定 Group 模型的表名。
func (Group) TableName() string {
	return "groups"
}

// GroupMemberRole 定义了用户在群组中的角色。
type GroupMemberRole string

const (
	AdminRole  GroupMemberRole = "admin"
	MemberRole GroupMemberRole = "member"
)

// GroupMember 将用户链接到群组并定义其角色。
type GroupMember struct {
	GroupID  uint            `gorm:"primaryKey;autoIncrement:false" json:"groupId"`
	UserID   uint            `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	Role     GroupMemberRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt time.Time       `json:"joinedAt"`

	// 关联关系
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Group Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// TableName 指定 GroupMember 模型的表名。
func (GroupMember) TableName() string {
	return "group_members"
}
