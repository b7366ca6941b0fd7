package model

import "time"

// User is a chat user; user_id is the Telegram id.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LanguageCode string
	IsBanned     bool
	RegisteredAt time.Time
}

func (u *User) IsZero() bool { return u == nil || u.ID == 0 }

// DisplayName is used in operator notifications.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
