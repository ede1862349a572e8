package notify

import (
	"context"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"gorm.io/gorm"
)

// DeliveryRepository handles database operations for outbound deliveries
type DeliveryRepository interface {
	// Create queues a new delivery
	Create(ctx context.Context, d *domain.NotificationDelivery) error

	// GetPending retrieves deliveries never attempted (status = 'pending')
	GetPending(ctx context.Context, limit int) ([]*domain.NotificationDelivery, error)

	// GetFailed retrieves failed deliveries that still have retries left
	GetFailed(ctx context.Context, limit int) ([]*domain.NotificationDelivery, error)

	// MarkSent records a successful send and clears the error
	MarkSent(ctx context.Context, id int64, at time.Time) error

	// UpdateStatus updates the status and error message of a delivery
	UpdateStatus(ctx context.Context, id int64, status, errorMsg string) error

	// IncrementRetry increments the retry counter
	IncrementRetry(ctx context.Context, id int64) error

	List(ctx context.Context, organizationID int64, page, pageSize int) ([]*domain.NotificationDelivery, int64, error)
}

// GormDeliveryRepository is the GORM implementation of DeliveryRepository
type GormDeliveryRepository struct {
	db *gorm.DB
}

func NewGormDeliveryRepository(db *gorm.DB) *GormDeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

func (r *GormDeliveryRepository) Create(ctx context.Context, d *domain.NotificationDelivery) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *GormDeliveryRepository) GetPending(ctx context.Context, limit int) ([]*domain.NotificationDelivery, error) {
	var rows []*domain.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.DeliveryPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *GormDeliveryRepository) GetFailed(ctx context.Context, limit int) ([]*domain.NotificationDelivery, error) {
	var rows []*domain.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.DeliveryFailed).
		Where("retry_count < ?", domain.MaxDeliveryRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *GormDeliveryRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.NotificationDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.DeliverySent,
			"error_msg":  "",
			"sent_at":    at,
			"updated_at": at,
		}).Error
}

func (r *GormDeliveryRepository) UpdateStatus(ctx context.Context, id int64, status, errorMsg string) error {
	return r.db.WithContext(ctx).
		Model(&domain.NotificationDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"error_msg":  errorMsg,
			"updated_at": time.Now(),
		}).Error
}

func (r *GormDeliveryRepository) IncrementRetry(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&domain.NotificationDelivery{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *GormDeliveryRepository) List(ctx context.Context, organizationID int64, page, pageSize int) ([]*domain.NotificationDelivery, int64, error) {
	var rows []*domain.NotificationDelivery
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.NotificationDelivery{})
	if organizationID > 0 {
		query = query.Where("organization_id = ?", organizationID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}
