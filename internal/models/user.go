package models

import "time"

// User is an authenticated account. Requests carrying no API token act as
// guests and never own a User row.
type User struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:64;not null"`
	Email     string `gorm:"size:128;index"`
	APIToken  string `gorm:"size:64;uniqueIndex"`
	IsAdmin   bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Chats []Chat `gorm:"foreignKey:UserID"`
}
