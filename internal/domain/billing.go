package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Plan is the catalog entry whose limits are copied onto subscriptions. Nil limits mean unlimited.
type Plan struct {
	ID                int64           `json:"id,string"`
	Name              string          `gorm:"uniqueIndex;size:64" json:"name"`
	PriceUSD          decimal.Decimal `gorm:"type:numeric(10,2)" json:"price_usd"`
	OrderLimit        *int            `json:"order_limit"`
	MaxOrgs           *int            `json:"max_orgs"`
	MaxProductsPerOrg *int            `json:"max_products_per_org"`
	Description       string          `json:"description"`
	Sort              int             `json:"sort"`
	Status            string          `gorm:"size:16" json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}

func (p *Plan) IsFree() bool {
	return p.PriceUSD.IsZero()
}

// Subscription keeps a snapshot of the plan limits taken when the row was last written.
type Subscription struct {
	ID                  int64      `json:"id,string"`
	UserID              int64      `gorm:"index" json:"user_id,string"`
	PlanName            string     `gorm:"size:64" json:"plan_name"`
	Status              string     `gorm:"size:16;index" json:"status"`
	CurrentPeriodStart  *time.Time `json:"current_period_start"`
	CurrentPeriodEnd    *time.Time `json:"current_period_end"`
	TrialEndsAt         *time.Time `json:"trial_ends_at"`
	ScheduledPlanName   string     `gorm:"size:64" json:"scheduled_plan_name"`
	ScheduledChangeDate *time.Time `gorm:"index" json:"scheduled_change_date"`
	OrderLimit          *int       `json:"order_limit"`
	MaxOrgs             *int       `json:"max_orgs"`
	MaxProductsPerOrg   *int       `json:"max_products_per_org"`
	PhoneNumber         string     `json:"phone_number"`
	ReminderSentAt      *time.Time `json:"reminder_sent_at"`
	CancelledAt         *time.Time `json:"cancelled_at"`
	CreatedAt           time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Usable reports whether the subscription grants plan limits.
func (s *Subscription) Usable() bool {
	return s != nil && (s.Status == SubscriptionTrial || s.Status == SubscriptionActive)
}

// OrderUsageTracking counts orders per organization per calendar month (MonthYear = "2006-01").
type OrderUsageTracking struct {
	ID             int64     `json:"id,string"`
	OrganizationID int64     `gorm:"uniqueIndex:idx_usage_org_month" json:"organization_id,string"`
	MonthYear      string    `gorm:"uniqueIndex:idx_usage_org_month;size:7" json:"month_year"`
	OrderCount     int       `json:"order_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (OrderUsageTracking) TableName() string {
	return "order_usage_tracking"
}
