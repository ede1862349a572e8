package domain

import "time"

type Notification struct {
	ID        int64      `json:"id,string" gorm:"primaryKey"`
	UserID    int64      `json:"user_id,string" gorm:"index"`
	Type      string     `json:"type" gorm:"size:32"`
	Title     string     `json:"title"`
	Body      string     `json:"body" gorm:"type:text"`
	Link      string     `json:"link"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at" gorm:"index"`
}

func (Notification) TableName() string {
	return "notifications"
}

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"

	MaxDeliveryRetries = 3
)

// NotificationDelivery is an outbound message waiting for (or done with) an external channel.
type NotificationDelivery struct {
	ID             int64      `json:"id,string" gorm:"primaryKey"`
	OrganizationID int64      `json:"organization_id,string" gorm:"index"`
	Channel        string     `json:"channel" gorm:"size:16"`
	Recipient      string     `json:"recipient"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body" gorm:"type:text"`
	Status         string     `json:"status" gorm:"size:16;index"`
	ErrorMsg       string     `json:"error_msg"`
	RetryCount     int        `json:"retry_count" gorm:"default:0"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time  `json:"updated_at"`
	SentAt         *time.Time `json:"sent_at"`
}

func (NotificationDelivery) TableName() string {
	return "notification_delivery"
}
