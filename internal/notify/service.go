// Package notify turns domain events into in-app notifications and queues
// outbound messages for merchant channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/whatsapp"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/panjf2000/ants/v2"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotificationNotFound = domain.NewNotFoundError("NOTIFICATION_NOT_FOUND", "notification not found")

const (
	TypeOrderPlaced   = "order_placed"
	TypeOrderStatus   = "order_status"
	TypePayment       = "payment"
	TypeFollower      = "follower"
	TypeNewProduct    = "new_product"
	TypeLowStock      = "low_stock"
	TypeSubscription  = "subscription"
	handlerTimeout    = 30 * time.Second
	dispatchBatchSize = 100
)

// Subscriber is the part of the event bus the service registers on.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

type Options struct {
	PublicURL string
	Currency  string
}

// Service handles notification fan-out and delivery dispatch
type Service struct {
	db         *gorm.DB
	deliveries DeliveryRepository
	pusher     Pusher
	messages   *whatsapp.Service
	senders    map[string]Sender
	pool       *ants.Pool
	opts       Options
	now        func() time.Time

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewService creates the notification service. pool may be nil, in which case
// fan-out and sends run on the calling goroutine.
func NewService(db *gorm.DB, deliveries DeliveryRepository, pusher Pusher, messages *whatsapp.Service,
	pool *ants.Pool, opts Options, senders ...Sender) *Service {
	if pusher == nil {
		pusher = LogPusher{}
	}
	if opts.Currency == "" {
		opts.Currency = "RWF"
	}
	s := &Service{
		db:         db,
		deliveries: deliveries,
		pusher:     pusher,
		messages:   messages,
		senders:    make(map[string]Sender),
		pool:       pool,
		opts:       opts,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	for _, sender := range senders {
		s.senders[sender.Channel()] = sender
	}
	return s
}

// Subscribe registers the event handlers on the bus.
func (s *Service) Subscribe(bus Subscriber) error {
	handlers := map[string]interface{}{
		events.TopicOrderPlaced:          s.OnOrderPlaced,
		events.TopicOrderStatusChanged:   s.OnOrderStatusChanged,
		events.TopicPaymentSettled:       s.OnPaymentSettled,
		events.TopicOrganizationFollowed: s.OnOrganizationFollowed,
		events.TopicProductCreated:       s.OnProductCreated,
		events.TopicLowStock:             s.OnLowStock,
		events.TopicSubscriptionChanged:  s.OnSubscriptionChanged,
	}
	for topic, fn := range handlers {
		if err := bus.Subscribe(topic, fn); err != nil {
			return perrors.Wrapf(err, "subscribe %s", topic)
		}
	}
	return nil
}

// Notify stores an in-app notification and pushes it. Push failures are logged only.
func (s *Service) Notify(ctx context.Context, n *domain.Notification) error {
	if n.ID == 0 {
		n.ID = common.UUIDint64()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return perrors.Wrap(err, "insert notification")
	}
	if err := s.pusher.Push(ctx, n); err != nil {
		zap.L().Warn("push notification failed",
			zap.Int64("notification_id", n.ID),
			zap.Int64("user_id", n.UserID),
			zap.Error(err))
	}
	return nil
}

func (s *Service) notifyLogged(ctx context.Context, n *domain.Notification) {
	if err := s.Notify(ctx, n); err != nil {
		zap.L().Error("create notification failed",
			zap.Int64("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

func (s *Service) owner(ctx context.Context, organizationID int64) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.WithContext(ctx).First(&org, organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFoundError("ORGANIZATION_NOT_FOUND", "organization not found")
	}
	return &org, perrors.Wrap(err, "load organization")
}

func (s *Service) link(path string, id int64) string {
	return fmt.Sprintf("/%s/%d", path, id)
}

func (s *Service) OnOrderPlaced(ev events.OrderPlaced) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	org, err := s.owner(ctx, ev.OrganizationID)
	if err != nil {
		zap.L().Error("order placed notification", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		return
	}
	s.notifyLogged(ctx, &domain.Notification{
		UserID: org.OwnerID,
		Type:   TypeOrderPlaced,
		Title:  fmt.Sprintf("New order #%d", ev.OrderNumber),
		Body:   fmt.Sprintf("%d item(s), total %s %s", ev.ItemCount, ev.TotalPrice.StringFixed(2), s.opts.Currency),
		Link:   s.link("orders", ev.OrderID),
	})
	if err := s.queueOrderEmails(ctx, org, ev.OrderID); err != nil {
		zap.L().Error("queue order email", zap.Int64("order_id", ev.OrderID), zap.Error(err))
	}
}

// queueOrderEmails adds one delivery per enabled e-mail channel of the organization.
func (s *Service) queueOrderEmails(ctx context.Context, org *domain.Organization, orderID int64) error {
	var channels []domain.MerchantChannel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND kind = ? AND status = ?", org.ID, domain.ChannelEmail, common.ENABLED).
		Find(&channels).Error
	if err != nil || len(channels) == 0 {
		return perrors.Wrap(err, "load email channels")
	}

	var order domain.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, orderID).Error; err != nil {
		return perrors.Wrap(err, "load order")
	}
	var customer domain.User
	if err := s.db.WithContext(ctx).First(&customer, order.UserID).Error; err != nil {
		return perrors.Wrap(err, "load customer")
	}
	subject := fmt.Sprintf("%s: new order #%d", org.Name, order.OrderNumber)
	body := s.orderBody(org, &order, &customer)

	for _, ch := range channels {
		now := s.now()
		d := &domain.NotificationDelivery{
			ID:             common.UUIDint64(),
			OrganizationID: org.ID,
			Channel:        domain.ChannelEmail,
			Recipient:      ch.Address,
			Subject:        subject,
			Body:           body,
			Status:         domain.DeliveryPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.deliveries.Create(ctx, d); err != nil {
			return perrors.Wrap(err, "queue delivery")
		}
	}
	return nil
}

func (s *Service) orderBody(org *domain.Organization, order *domain.Order, customer *domain.User) string {
	base := strings.TrimRight(s.opts.PublicURL, "/") + "/api/v1/public/orders/"
	msg := whatsapp.OrderMessage{
		StoreName:    org.Name,
		OrderNumber:  order.OrderNumber,
		CustomerName: customer.Name,
		Total:        order.TotalPrice,
		Currency:     s.opts.Currency,
		Notes:        order.Notes,
	}
	if order.Status == domain.OrderPending && order.ConfirmationToken != "" {
		msg.ConfirmURL = base + "confirm?token=" + order.ConfirmationToken
		msg.RejectURL = base + "reject?token=" + order.ConfirmationToken
	}
	for _, it := range order.Items {
		msg.Lines = append(msg.Lines, whatsapp.Line{Name: it.ProductName, Quantity: it.Quantity, Subtotal: it.Subtotal, Notes: it.Notes})
	}
	if s.messages == nil {
		return fmt.Sprintf("Order #%d from %s, total %s %s", order.OrderNumber, customer.Name, order.TotalPrice.StringFixed(2), s.opts.Currency)
	}
	return s.messages.OrderText(msg)
}

func (s *Service) OnOrderStatusChanged(ev events.OrderStatusChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if ev.ActorID != ev.UserID {
		s.notifyLogged(ctx, &domain.Notification{
			UserID: ev.UserID,
			Type:   TypeOrderStatus,
			Title:  fmt.Sprintf("Order #%d is %s", ev.OrderNumber, ev.To),
			Body:   fmt.Sprintf("Your order moved from %s to %s.", ev.From, ev.To),
			Link:   s.link("orders", ev.OrderID),
		})
		return
	}
	// the customer acted: tell the merchant
	org, err := s.owner(ctx, ev.OrganizationID)
	if err != nil {
		zap.L().Error("order status notification", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		return
	}
	s.notifyLogged(ctx, &domain.Notification{
		UserID: org.OwnerID,
		Type:   TypeOrderStatus,
		Title:  fmt.Sprintf("Order #%d was %s by the customer", ev.OrderNumber, ev.To),
		Link:   s.link("orders", ev.OrderID),
	})
}

func (s *Service) OnPaymentSettled(ev events.PaymentSettled) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	n := &domain.Notification{UserID: ev.UserID, Type: TypePayment, Link: "/subscription"}
	if ev.Status == domain.PaymentSuccessful {
		n.Title = "Payment received"
		n.Body = fmt.Sprintf("Your %s plan is now active.", ev.PlanName)
	} else {
		n.Title = "Payment failed"
		n.Body = fmt.Sprintf("The payment for the %s plan did not go through (ref %s).", ev.PlanName, ev.PaypackRef)
	}
	s.notifyLogged(ctx, n)
}

func (s *Service) OnOrganizationFollowed(ev events.OrganizationFollowed) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	org, err := s.owner(ctx, ev.OrganizationID)
	if err != nil {
		zap.L().Error("follow notification", zap.Int64("organization_id", ev.OrganizationID), zap.Error(err))
		return
	}
	var follower domain.User
	name := "Someone"
	if err := s.db.WithContext(ctx).Select("id", "name").First(&follower, ev.UserID).Error; err == nil && follower.Name != "" {
		name = follower.Name
	}
	s.notifyLogged(ctx, &domain.Notification{
		UserID: org.OwnerID,
		Type:   TypeFollower,
		Title:  "New follower",
		Body:   fmt.Sprintf("%s now follows %s.", name, org.Name),
		Link:   s.link("organizations", org.ID),
	})
}

// OnProductCreated notifies every follower of the organization through the worker pool.
func (s *Service) OnProductCreated(ev events.ProductCreated) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	org, err := s.owner(ctx, ev.OrganizationID)
	if err != nil {
		zap.L().Error("product notification", zap.Int64("product_id", ev.ProductID), zap.Error(err))
		return
	}
	var followers []int64
	if err := s.db.WithContext(ctx).Model(&domain.Follow{}).
		Where("organization_id = ?", ev.OrganizationID).
		Pluck("user_id", &followers).Error; err != nil {
		zap.L().Error("load followers", zap.Int64("organization_id", ev.OrganizationID), zap.Error(err))
		return
	}
	s.fanOut(followers, func(userID int64) *domain.Notification {
		return &domain.Notification{
			UserID: userID,
			Type:   TypeNewProduct,
			Title:  fmt.Sprintf("New at %s", org.Name),
			Body:   ev.Name,
			Link:   s.link("products", ev.ProductID),
		}
	})
}

func (s *Service) fanOut(userIDs []int64, build func(userID int64) *domain.Notification) {
	var wg sync.WaitGroup
	for _, id := range userIDs {
		userID := id
		wg.Add(1)
		task := func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			s.notifyLogged(ctx, build(userID))
		}
		if s.pool == nil {
			task()
			continue
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			zap.L().Warn("fan-out submit failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	wg.Wait()
}

func (s *Service) OnLowStock(ev events.LowStock) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	org, err := s.owner(ctx, ev.OrganizationID)
	if err != nil {
		zap.L().Error("low stock notification", zap.Int64("product_id", ev.ProductID), zap.Error(err))
		return
	}
	s.notifyLogged(ctx, &domain.Notification{
		UserID: org.OwnerID,
		Type:   TypeLowStock,
		Title:  fmt.Sprintf("Low stock: %s", ev.Name),
		Body:   fmt.Sprintf("%d left (threshold %d).", ev.CurrentStock, ev.Threshold),
		Link:   s.link("products", ev.ProductID),
	})
}

// OnSubscriptionChanged covers the changes the user did not trigger directly.
// Activation is announced by the payment notification.
func (s *Service) OnSubscriptionChanged(ev events.SubscriptionChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	n := &domain.Notification{UserID: ev.UserID, Type: TypeSubscription, Link: "/subscription"}
	switch ev.Reason {
	case events.ReasonRenewalDue:
		n.Title = "Subscription renewal due"
		if ev.PeriodEnd != nil {
			n.Body = fmt.Sprintf("Your %s plan ends on %s.", ev.PlanName, ev.PeriodEnd.Format("2006-01-02"))
		} else {
			n.Body = fmt.Sprintf("Your %s plan ends soon.", ev.PlanName)
		}
	case events.ReasonExpired:
		n.Title = "Subscription expired"
		n.Body = fmt.Sprintf("Your %s plan has expired.", ev.PlanName)
	case events.ReasonDowngraded:
		n.Title = "Plan changed"
		n.Body = fmt.Sprintf("You are now on the %s plan.", ev.PlanName)
	default:
		return
	}
	s.notifyLogged(ctx, n)
}

// List returns the user's notifications, newest first, and the unread count.
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	var total, unread int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, 0, perrors.Wrap(err, "count notifications")
	}
	if err := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).Count(&unread).Error; err != nil {
		return nil, 0, 0, perrors.Wrap(err, "count unread")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var rows []domain.Notification
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error
	return rows, total, unread, perrors.Wrap(err, "list notifications")
}

func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	var n domain.Notification
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return perrors.Wrap(err, "load notification")
	}
	if n.ReadAt != nil {
		return nil
	}
	return perrors.Wrap(s.db.WithContext(ctx).Model(&n).Update("read_at", s.now()).Error, "mark read")
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", s.now())
	return res.RowsAffected, perrors.Wrap(res.Error, "mark all read")
}

// PurgeRead deletes notifications read before the cutoff.
func (s *Service) PurgeRead(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("read_at IS NOT NULL AND read_at < ?", before).Delete(&domain.Notification{})
	return res.RowsAffected, perrors.Wrap(res.Error, "purge notifications")
}

func (s *Service) Deliveries(ctx context.Context, organizationID int64, page, pageSize int) ([]*domain.NotificationDelivery, int64, error) {
	return s.deliveries.List(ctx, organizationID, page, pageSize)
}
