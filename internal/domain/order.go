package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderPreparing = "preparing"
	OrderReady     = "ready"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

type Order struct {
	ID                int64           `json:"id,string" gorm:"primaryKey"`
	OrderNumber       int64           `json:"order_number" gorm:"uniqueIndex:idx_order_org_number"`
	OrganizationID    int64           `json:"organization_id,string" gorm:"uniqueIndex:idx_order_org_number;index"`
	UserID            int64           `json:"user_id,string" gorm:"index"`
	Status            string          `json:"status" gorm:"size:16;index"`
	TotalPrice        decimal.Decimal `json:"total_price" gorm:"type:numeric(14,2)"`
	Notes             string          `json:"notes" gorm:"type:text"`
	ConfirmationToken string          `json:"-" gorm:"size:64;index"`
	TokenExpiresAt    time.Time       `json:"token_expires_at"`
	ConfirmedAt       *time.Time      `json:"confirmed_at"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	DeliveredAt       *time.Time      `json:"delivered_at"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []OrderItem     `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderDelivered || o.Status == OrderCancelled
}

// OrderItem snapshots the price at order time. It is never updated.
type OrderItem struct {
	ID           int64           `json:"id,string" gorm:"primaryKey"`
	OrderID      int64           `json:"order_id,string" gorm:"index"`
	ProductID    int64           `json:"product_id,string" gorm:"index"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order" gorm:"type:numeric(14,2)"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:numeric(14,2)"`
	Notes        string          `json:"notes"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
