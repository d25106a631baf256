package model

import "time"

type User struct {
	UserID        string `gorm:"type:varchar(50);primary_key"`
	DisplayName   string `gorm:"type:varchar(100)"`
	Username      string `gorm:"type:varchar(100)"`
	IsBot         bool
	IsAdmin       bool
	FirstSeenAt   time.Time
	LastActiveAt  time.Time
	TotalMessages int
}

// PreferredName は表示名、ユーザー名、ID の順に使う
func (u *User) PreferredName() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.UserID
}
