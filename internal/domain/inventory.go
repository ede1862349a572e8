package domain

import "time"

const (
	ChangeAdjustment = "adjustment"
	ChangeRestock    = "restock"
	ChangeSale       = "sale"
	ChangeReturn     = "return"
	ChangeDamaged    = "damaged"
)

var ChangeTypes = []string{ChangeAdjustment, ChangeRestock, ChangeSale, ChangeReturn, ChangeDamaged}

func IsChangeType(v string) bool {
	for _, t := range ChangeTypes {
		if t == v {
			return true
		}
	}
	return false
}

// InventoryHistory is the append-only audit trail of stock changes. Rows are never updated.
type InventoryHistory struct {
	ID             int64     `json:"id,string" gorm:"primaryKey" csv:"id"`
	ProductID      int64     `json:"product_id,string" gorm:"index" csv:"product_id"`
	OrganizationID int64     `json:"organization_id,string" gorm:"index" csv:"organization_id"`
	ChangeType     string    `json:"change_type" gorm:"size:16" csv:"change_type"`
	QuantityChange int       `json:"quantity_change" csv:"quantity_change"`
	PreviousStock  int       `json:"previous_stock" csv:"previous_stock"`
	NewStock       int       `json:"new_stock" csv:"new_stock"`
	Shortfall      int       `json:"shortfall" csv:"shortfall"` // units dropped by the zero clamp
	Reason         string    `json:"reason" csv:"reason"`
	ReferenceKey   *string   `json:"reference_key,omitempty" gorm:"uniqueIndex;size:191" csv:"reference_key"`
	ActorID        int64     `json:"actor_id,string" csv:"actor_id"`
	CreatedAt      time.Time `json:"created_at" gorm:"index" csv:"created_at"`
}

func (InventoryHistory) TableName() string {
	return "inventory_history"
}
