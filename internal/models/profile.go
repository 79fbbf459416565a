package models

import (
	"strings"

	"gorm.io/gorm"
)

// Profile is the display profile of a user, as served by the profile lookup.
type Profile struct {
	UserID   string `gorm:"primaryKey" json:"userid"`
	FullName string `json:"fullname"`
	Image    string `json:"image"`
	// TelegramChatID links the user to a Telegram chat for unread notifications. Zero means unlinked.
	TelegramChatID int64 `gorm:"index" json:"-"`
}

// FallbackProfile is used when a profile cannot be resolved.
func FallbackProfile(userID string) Profile {
	return Profile{UserID: userID, FullName: userID}
}

// DisplayName returns the full name, or the user id when no name is set.
func (p Profile) DisplayName() string {
	if strings.TrimSpace(p.FullName) == "" {
		return p.UserID
	}
	return p.FullName
}

// BeforeSave trims the stored names.
func (p *Profile) BeforeSave(tx *gorm.DB) (err error) {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Image = strings.TrimSpace(p.Image)
	return
}
