package orders

import (
	"context"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/montanaflynn/stats"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Get returns an order visible to viewer: its customer, any member of the store, or a platform admin.
func (s *Service) Get(ctx context.Context, orderID int64, viewer *domain.User) (*domain.Order, error) {
	order, err := s.load(s.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID == viewer.ID {
		return order, nil
	}
	if err := s.Authorize(ctx, order.OrganizationID, viewer, false); err != nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

type ListFilter struct {
	OrganizationID int64
	CustomerID     int64
	Status         string
	From           time.Time
	To             time.Time
	Sort           string
	Order          string
}

var sortable = map[string]string{
	"created_at":   "created_at",
	"order_number": "order_number",
	"total_price":  "total_price",
	"status":       "status",
}

func (f ListFilter) apply(db *gorm.DB) *gorm.DB {
	if f.OrganizationID != 0 {
		db = db.Where("organization_id = ?", f.OrganizationID)
	}
	if f.CustomerID != 0 {
		db = db.Where("user_id = ?", f.CustomerID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		db = db.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		db = db.Where("created_at < ?", f.To)
	}
	return db
}

// List pages through orders, newest first unless f says otherwise. pageSize <= 0 returns everything.
func (s *Service) List(ctx context.Context, f ListFilter, page, pageSize int) ([]domain.Order, int64, error) {
	query := f.apply(s.db.WithContext(ctx).Model(&domain.Order{}))
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "count orders")
	}

	column, ok := sortable[f.Sort]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if f.Order == "asc" {
		direction = "ASC"
	}
	query = query.Order(column + " " + direction).Order("id DESC").Preload("Items")
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}
	var orders []domain.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

// SalesStats summarises a store's orders over a window. Cancelled orders count
// toward ByStatus only.
type SalesStats struct {
	Orders       int             `json:"orders"`
	Revenue      decimal.Decimal `json:"revenue"`
	MeanValue    float64         `json:"mean_value"`
	MedianValue  float64         `json:"median_value"`
	P90Value     float64         `json:"p90_value"`
	ByStatus     map[string]int  `json:"by_status"`
	Delivered    int             `json:"delivered"`
	Cancelled    int             `json:"cancelled"`
	CancelRate   float64         `json:"cancel_rate"`
	WindowStart  time.Time       `json:"window_start"`
	WindowFinish time.Time       `json:"window_finish"`
}

func (s *Service) Stats(ctx context.Context, organizationID int64, from, to time.Time) (*SalesStats, error) {
	var orders []domain.Order
	err := ListFilter{OrganizationID: organizationID, From: from, To: to}.
		apply(s.db.WithContext(ctx).Model(&domain.Order{})).
		Select("id", "status", "total_price").
		Find(&orders).Error
	if err != nil {
		return nil, perrors.Wrap(err, "load orders for stats")
	}

	out := &SalesStats{
		Revenue:      decimal.Zero,
		ByStatus:     make(map[string]int),
		WindowStart:  from,
		WindowFinish: to,
	}
	values := make(stats.Float64Data, 0, len(orders))
	for _, o := range orders {
		out.Orders++
		out.ByStatus[o.Status]++
		switch o.Status {
		case domain.OrderCancelled:
			out.Cancelled++
			continue
		case domain.OrderDelivered:
			out.Delivered++
		}
		out.Revenue = out.Revenue.Add(o.TotalPrice)
		values = append(values, o.TotalPrice.InexactFloat64())
	}
	if out.Orders > 0 {
		out.CancelRate = float64(out.Cancelled) / float64(out.Orders)
	}
	if len(values) == 0 {
		return out, nil
	}
	if out.MeanValue, err = stats.Mean(values); err != nil {
		return nil, err
	}
	if out.MedianValue, err = stats.Median(values); err != nil {
		return nil, err
	}
	if out.P90Value, err = stats.Percentile(values, 90); err != nil {
		return nil, err
	}
	return out, nil
}
