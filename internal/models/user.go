package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a marketplace account. Registration and login are handled by the
// surrounding application; the escrow core needs the account row for
// ownership checks and the admin role gate.
type User struct {
	gorm.Model
	Email       string `gorm:"uniqueIndex;not null"`
	Password    string `gorm:"not null"`
	Name        string `gorm:"not null"`
	Role        string `gorm:"default:'user'"` // user | admin
	Status      string `gorm:"default:'active'"`
	LastLoginAt time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}
