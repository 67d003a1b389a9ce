package domain

import "time"

// User 表示系统中的账号，会话主持人与参与者都引用它。
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null" json:"username"`
	Password    string    `gorm:"type:text;not null" json:"-"` // bcrypt 哈希
	Email       string    `gorm:"type:varchar(191);index" json:"email,omitempty"`
	DisplayName string    `gorm:"type:varchar(191)" json:"display_name,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Name 返回展示用名称，未设置时退回用户名。
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
