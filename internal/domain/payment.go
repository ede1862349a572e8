package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentPending    = "pending"
	PaymentSuccessful = "successful"
	PaymentFailed     = "failed"
)

// Payment status never changes once it leaves pending.
type Payment struct {
	ID          int64           `json:"id,string"`
	UserID      int64           `gorm:"index" json:"user_id,string"`
	PhoneNumber string          `json:"phone_number"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	Currency    string          `gorm:"size:8" json:"currency"`
	PlanName    string          `gorm:"size:64" json:"plan_name"`
	IsRenewal   bool            `json:"is_renewal"`
	PaypackRef  string          `gorm:"uniqueIndex;size:128" json:"paypack_ref"`
	Status      string          `gorm:"size:16;index" json:"status"`
	ProcessedAt *time.Time      `json:"processed_at"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
