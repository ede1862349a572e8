// Package events carries domain events between services after their transactions commit.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderPlaced          = "order.placed"
	TopicOrderStatusChanged   = "order.status_changed"
	TopicPaymentSettled       = "payment.settled"
	TopicSubscriptionChanged  = "subscription.changed"
	TopicProductCreated       = "product.created"
	TopicOrganizationFollowed = "organization.followed"
	TopicLowStock             = "inventory.low_stock"
)

var Topics = []string{
	TopicOrderPlaced,
	TopicOrderStatusChanged,
	TopicPaymentSettled,
	TopicSubscriptionChanged,
	TopicProductCreated,
	TopicOrganizationFollowed,
	TopicLowStock,
}

// Publisher is what services depend on. Publish must not be called inside a transaction.
type Publisher interface {
	Publish(topic string, payload interface{})
}

type OrderPlaced struct {
	OrderID        int64           `json:"order_id,string"`
	OrderNumber    int64           `json:"order_number"`
	OrganizationID int64           `json:"organization_id,string"`
	UserID         int64           `json:"user_id,string"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	ItemCount      int             `json:"item_count"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type OrderStatusChanged struct {
	OrderID        int64     `json:"order_id,string"`
	OrderNumber    int64     `json:"order_number"`
	OrganizationID int64     `json:"organization_id,string"`
	UserID         int64     `json:"user_id,string"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	ActorID        int64     `json:"actor_id,string"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type PaymentSettled struct {
	PaymentID  int64           `json:"payment_id,string"`
	UserID     int64           `json:"user_id,string"`
	PaypackRef string          `json:"paypack_ref"`
	PlanName   string          `json:"plan_name"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	OccurredAt time.Time       `json:"occurred_at"`
}

const (
	ReasonActivated      = "activated"
	ReasonPlanSet        = "plan_set"
	ReasonDowngraded     = "downgraded"
	ReasonExpired        = "expired"
	ReasonCancelled      = "cancelled"
	ReasonRenewalDue     = "renewal_due"
	ReasonTrialStarted   = "trial_started"
	ReasonChangeCanceled = "scheduled_change_cancelled"
)

type SubscriptionChanged struct {
	SubscriptionID int64      `json:"subscription_id,string"`
	UserID         int64      `json:"user_id,string"`
	PlanName       string     `json:"plan_name"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

type ProductCreated struct {
	ProductID      int64     `json:"product_id,string"`
	OrganizationID int64     `json:"organization_id,string"`
	Name           string    `json:"name"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type OrganizationFollowed struct {
	OrganizationID int64     `json:"organization_id,string"`
	UserID         int64     `json:"user_id,string"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type LowStock struct {
	ProductID      int64     `json:"product_id,string"`
	OrganizationID int64     `json:"organization_id,string"`
	Name           string    `json:"name"`
	CurrentStock   int       `json:"current_stock"`
	Threshold      int       `json:"threshold"`
	OccurredAt     time.Time `json:"occurred_at"`
}
