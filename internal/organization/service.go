// Package organization manages merchant stores, their members, followers and notification channels.
package organization

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrganizationNotFound = domain.NewNotFoundError("ORGANIZATION_NOT_FOUND", "organization not found")
	ErrMemberExists         = domain.NewBusinessError("MEMBER_EXISTS", "user is already a member")
)

// OrganizationGate enforces the per-user organization allowance.
type OrganizationGate interface {
	CheckOrganizationLimitTx(tx *gorm.DB, userID int64) (*billing.LimitResult, error)
}

type Service struct {
	db     *gorm.DB
	limits OrganizationGate
	events events.Publisher
	now    func() time.Time
}

func NewService(db *gorm.DB, limits OrganizationGate, pub events.Publisher) *Service {
	return &Service{db: db, limits: limits, events: pub, now: time.Now}
}

type Input struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Address string `json:"address" validate:"omitempty,max=255"`
}

func uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := common.Slugify(name)
	if base == "" {
		base = "store"
	}
	slug := base
	for i := 0; i < 5; i++ {
		var n int64
		if err := tx.Model(&domain.Organization{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
			return "", perrors.Wrap(err, "check organization slug")
		}
		if n == 0 {
			return slug, nil
		}
		suffix, err := common.RandomToken(3)
		if err != nil {
			return "", err
		}
		slug = base + "-" + suffix
	}
	return "", domain.NewBusinessError("SLUG_TAKEN", "could not allocate a unique slug for "+name)
}

// Create opens a store owned by the caller. The limit is checked with the user row locked.
func (s *Service) Create(ctx context.Context, owner *domain.User, in Input) (*domain.Organization, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.NewValidationError("INVALID_NAME", "name is required")
	}
	var org *domain.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&user, owner.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewNotFoundError("USER_NOT_FOUND", "user not found")
		}
		if err != nil {
			return perrors.Wrap(err, "lock user")
		}
		limit, err := s.limits.CheckOrganizationLimitTx(tx, owner.ID)
		if err != nil {
			return err
		}
		if err := limit.Denied(); err != nil {
			return err
		}

		slug, err := uniqueSlug(tx, name)
		if err != nil {
			return err
		}
		now := s.now()
		org = &domain.Organization{
			ID:        common.UUIDint64(),
			Name:      name,
			Slug:      slug,
			OwnerID:   owner.ID,
			Email:     strings.TrimSpace(in.Email),
			Phone:     strings.TrimSpace(in.Phone),
			Address:   strings.TrimSpace(in.Address),
			Status:    common.ENABLED,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(org).Error; err != nil {
			return perrors.Wrap(err, "insert organization")
		}
		return perrors.Wrap(tx.Create(&domain.Member{
			ID:             common.UUIDint64(),
			OrganizationID: org.ID,
			UserID:         owner.ID,
			Role:           domain.MemberRoleOwner,
			CreatedAt:      now,
		}).Error, "insert owner membership")
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("organization created", zap.Int64("organization_id", org.ID), zap.Int64("owner_id", owner.ID), zap.String("slug", org.Slug))
	return org, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.WithContext(ctx).First(&org, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load organization")
	}
	return &org, nil
}

// Update edits store details. Owners and admins only.
func (s *Service) Update(ctx context.Context, id int64, actor *domain.User, in Input) (*domain.Organization, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.RequireManager(ctx, org.ID, actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.NewValidationError("INVALID_NAME", "name is required")
	}
	err = s.db.WithContext(ctx).Model(&domain.Organization{}).Where("id = ?", org.ID).Updates(map[string]interface{}{
		"name":       name,
		"email":      strings.TrimSpace(in.Email),
		"phone":      strings.TrimSpace(in.Phone),
		"address":    strings.TrimSpace(in.Address),
		"updated_at": s.now(),
	}).Error
	if err != nil {
		return nil, perrors.Wrap(err, "update organization")
	}
	return s.Get(ctx, org.ID)
}

type ListFilter struct {
	Query        string
	MemberUserID int64
}

func (s *Service) List(ctx context.Context, f ListFilter, page, pageSize int) ([]domain.Organization, int64, error) {
	db := s.db.WithContext(ctx).Model(&domain.Organization{}).Where("status = ?", common.ENABLED)
	if f.MemberUserID != 0 {
		db = db.Where("id IN (?)", s.db.Model(&domain.Member{}).Select("organization_id").Where("user_id = ?", f.MemberUserID))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		if strings.EqualFold(s.db.Name(), "postgres") {
			db = db.Where("name ILIKE ?", "%"+q+"%")
		} else {
			db = db.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
		}
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "count organizations")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var rows []domain.Organization
	if err := db.Order("name ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "list organizations")
	}
	return rows, total, nil
}

// MemberRole returns the role of userID in the organization, "" when not a member.
func (s *Service) MemberRole(ctx context.Context, organizationID, userID int64) (string, error) {
	var m domain.Member
	err := s.db.WithContext(ctx).Select("role").
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", perrors.Wrap(err, "load membership")
	}
	return m.Role, nil
}

func (s *Service) RequireManager(ctx context.Context, organizationID int64, user *domain.User) error {
	if user.IsAdmin() {
		return nil
	}
	role, err := s.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return err
	}
	if !domain.CanManage(role) {
		return domain.ErrForbidden
	}
	return nil
}

type MemberInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin member"`
}

func (s *Service) AddMember(ctx context.Context, organizationID int64, actor *domain.User, in MemberInput) (*domain.Member, error) {
	if in.Role != domain.MemberRoleAdmin && in.Role != domain.MemberRoleMember {
		return nil, domain.NewValidationError("INVALID_ROLE", "role must be admin or member")
	}
	if _, err := s.Get(ctx, organizationID); err != nil {
		return nil, err
	}
	if err := s.RequireManager(ctx, organizationID, actor); err != nil {
		return nil, err
	}
	var user domain.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(in.Email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("USER_NOT_FOUND", "no account with that email")
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load user")
	}
	role, err := s.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return nil, err
	}
	if role != "" {
		return nil, ErrMemberExists
	}
	m := &domain.Member{
		ID:             common.UUIDint64(),
		OrganizationID: organizationID,
		UserID:         user.ID,
		Role:           in.Role,
		CreatedAt:      s.now(),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, perrors.Wrap(err, "insert member")
	}
	return m, nil
}

func (s *Service) Members(ctx context.Context, organizationID int64) ([]domain.Member, error) {
	var rows []domain.Member
	err := s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Order("created_at ASC").Find(&rows).Error
	return rows, perrors.Wrap(err, "list members")
}

// Follow subscribes user to the store's product announcements. Following twice is a no-op.
func (s *Service) Follow(ctx context.Context, organizationID int64, user *domain.User) error {
	if _, err := s.Get(ctx, organizationID); err != nil {
		return err
	}
	now := s.now()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.Follow{
		ID:             common.UUIDint64(),
		UserID:         user.ID,
		OrganizationID: organizationID,
		CreatedAt:      now,
	})
	if res.Error != nil {
		return perrors.Wrap(res.Error, "insert follow")
	}
	if res.RowsAffected > 0 && s.events != nil {
		s.events.Publish(events.TopicOrganizationFollowed, events.OrganizationFollowed{
			OrganizationID: organizationID,
			UserID:         user.ID,
			OccurredAt:     now,
		})
	}
	return nil
}

func (s *Service) Unfollow(ctx context.Context, organizationID int64, user *domain.User) error {
	return perrors.Wrap(s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, user.ID).
		Delete(&domain.Follow{}).Error, "delete follow")
}

// Followers returns the ids of users following the organization.
func (s *Service) Followers(ctx context.Context, organizationID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&domain.Follow{}).Where("organization_id = ?", organizationID).Pluck("user_id", &ids).Error
	return ids, perrors.Wrap(err, "list followers")
}

type ChannelInput struct {
	Kind    string `json:"kind" validate:"required,oneof=whatsapp email"`
	Address string `json:"address" validate:"required,max=255"`
	Name    string `json:"name" validate:"max=64"`
}

func validateChannel(in ChannelInput) error {
	switch in.Kind {
	case domain.ChannelWhatsApp:
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, in.Address)
		if len(digits) < 9 || len(digits) > 15 {
			return domain.NewValidationError("INVALID_ADDRESS", "whatsapp channel needs a phone number")
		}
	case domain.ChannelEmail:
		if _, err := mail.ParseAddress(in.Address); err != nil {
			return domain.NewValidationError("INVALID_ADDRESS", "email channel needs a valid mailbox")
		}
	default:
		return domain.NewValidationError("INVALID_CHANNEL", "channel kind must be whatsapp or email")
	}
	return nil
}

func (s *Service) AddChannel(ctx context.Context, organizationID int64, actor *domain.User, in ChannelInput) (*domain.MerchantChannel, error) {
	in.Address = strings.TrimSpace(in.Address)
	if err := validateChannel(in); err != nil {
		return nil, err
	}
	if err := s.RequireManager(ctx, organizationID, actor); err != nil {
		return nil, err
	}
	now := s.now()
	ch := &domain.MerchantChannel{
		ID:             common.UUIDint64(),
		OrganizationID: organizationID,
		Kind:           in.Kind,
		Address:        in.Address,
		Name:           strings.TrimSpace(in.Name),
		Status:         common.ENABLED,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(ch).Error; err != nil {
		return nil, perrors.Wrap(err, "insert channel")
	}
	return ch, nil
}

func (s *Service) SetChannelStatus(ctx context.Context, channelID int64, actor *domain.User, enabled bool) error {
	var ch domain.MerchantChannel
	err := s.db.WithContext(ctx).First(&ch, channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewNotFoundError("CHANNEL_NOT_FOUND", "channel not found")
	}
	if err != nil {
		return perrors.Wrap(err, "load channel")
	}
	if err := s.RequireManager(ctx, ch.OrganizationID, actor); err != nil {
		return err
	}
	status := common.DISABLED
	if enabled {
		status = common.ENABLED
	}
	return perrors.Wrap(s.db.WithContext(ctx).Model(&ch).Updates(map[string]interface{}{"status": status, "updated_at": s.now()}).Error, "update channel")
}

func (s *Service) Channels(ctx context.Context, organizationID int64, actor *domain.User) ([]domain.MerchantChannel, error) {
	if err := s.RequireManager(ctx, organizationID, actor); err != nil {
		return nil, err
	}
	var rows []domain.MerchantChannel
	err := s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Order("created_at ASC").Find(&rows).Error
	return rows, perrors.Wrap(err, "list channels")
}

// EnabledChannels returns the active channels of kind for an organization.
func (s *Service) EnabledChannels(ctx context.Context, organizationID int64, kind string) ([]domain.MerchantChannel, error) {
	var rows []domain.MerchantChannel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND kind = ? AND status = ?", organizationID, kind, common.ENABLED).
		Find(&rows).Error
	return rows, perrors.Wrap(err, "list enabled channels")
}
