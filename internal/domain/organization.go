package domain

import "time"

const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Organization is a merchant store. Products and orders are scoped to it.
type Organization struct {
	ID        int64     `json:"id,string" form:"id"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Slug      string    `gorm:"uniqueIndex;size:191" json:"slug"`
	OwnerID   int64     `gorm:"index" json:"owner_id,string"`
	Email     string    `json:"email" form:"email"`
	Phone     string    `json:"phone" form:"phone"`
	Address   string    `json:"address" form:"address"`
	Status    string    `gorm:"size:16" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

type Member struct {
	ID             int64     `json:"id,string"`
	OrganizationID int64     `gorm:"uniqueIndex:idx_member_org_user" json:"organization_id,string"`
	UserID         int64     `gorm:"uniqueIndex:idx_member_org_user" json:"user_id,string"`
	Role           string    `gorm:"size:16" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Member) TableName() string {
	return "organization_members"
}

// CanManage reports whether the role may change orders, stock and channels.
func CanManage(role string) bool {
	return role == MemberRoleOwner || role == MemberRoleAdmin
}

type Follow struct {
	ID             int64     `json:"id,string"`
	UserID         int64     `gorm:"uniqueIndex:idx_follow_user_org" json:"user_id,string"`
	OrganizationID int64     `gorm:"uniqueIndex:idx_follow_user_org;index" json:"organization_id,string"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Follow) TableName() string {
	return "follows"
}
