package domain

import "time"

const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// MerchantChannel is where a merchant wants order notifications delivered.
type MerchantChannel struct {
	ID             int64     `json:"id,string" gorm:"primaryKey"`
	OrganizationID int64     `json:"organization_id,string" gorm:"index"`
	Kind           string    `json:"kind" gorm:"size:16"`
	Address        string    `json:"address"` // phone number for whatsapp, mailbox for email
	Name           string    `json:"name"`
	Status         string    `json:"status" gorm:"size:16"` // enabled, disabled
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (MerchantChannel) TableName() string {
	return "merchant_channels"
}
