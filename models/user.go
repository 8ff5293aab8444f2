package models

import (
	"time"

	"gorm.io/gorm"
)

// User backs the operator-authentication external collaborator (spec.md
// section 1 explicitly excludes session/auth design from the core; the
// teacher's GORM-backed user table is kept as the thin wrapper it already
// is).
type User struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Email     string `json:"email" gorm:"uniqueIndex;not null"`
	Name      string `json:"name"`
	Password  string `json:"-" gorm:"not null"`
	Role      string `json:"role" gorm:"default:operator"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
