package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account holds the virtual cash balance of one user.
// Version increases on every balance change and guards concurrent writers.
type Account struct {
	gorm.Model
	UserID  uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance decimal.Decimal `gorm:"type:text;not null" json:"balance"`
	Version int64           `gorm:"not null;default:0" json:"-"`
}
