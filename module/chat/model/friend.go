package model

import (
	"time"
)

// FriendUser is the counterpart summary embedded in a friend record.
type FriendUser struct {
	UserID   int64  `json:"userid"`
	Username string `json:"username"`
	Fullname string `json:"fullname"`
}

// Friend 表示一条好友关系记录（由后端维护，客户端只读镜像）。
// Status 为 true 表示已同意；待处理的申请出现在 requests 列表中。
type Friend struct {
	ID           int64      `json:"id"`           // 关系记录ID（好友列表的 key）
	UserID       int64      `json:"userid"`       // 对端用户ID，聊天时即 peer
	FriendUserID int64      `json:"frienduserid"` // 关系另一侧的用户ID
	Status       bool       `json:"friendstatus"` // 是否已同意
	CreatedAt    time.Time  `json:"createdat"`    // 添加时间
	User         FriendUser `json:"user"`         // 对端摘要

	Unread int `json:"-"` // 客户端未读计数
}

// PeerID is the user id messages are exchanged with.
func (f Friend) PeerID() int64 {
	return f.UserID
}

func (f Friend) DisplayName() string {
	if f.User.Fullname != "" {
		return f.User.Fullname
	}
	if f.User.Username != "" {
		return "@" + f.User.Username
	}
	return "user#" + itoa(f.UserID)
}
