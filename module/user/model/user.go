package model

import (
	"time"
)

// Identity 表示已登录用户，由 bearer token 的 payload 解出。
// 会话期间不可变，只有重新登录才会重新生成。
type Identity struct {
	ID        int64     `json:"id" mapstructure:"id"`                 // 用户ID（> 0）
	Username  string    `json:"username" mapstructure:"username"`     // 登录名
	Fullname  string    `json:"fullname" mapstructure:"fullname"`     // 显示名
	Email     string    `json:"email" mapstructure:"email"`           // 邮箱
	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"` // 注册时间
}

func (u Identity) IsZero() bool {
	return u.ID <= 0
}
