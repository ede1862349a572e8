// Package orders places orders and drives their status machine, deducting and
// restoring stock through the inventory ledger.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/cache"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/events"
	"github.com/bjo163/sokomarket/internal/inventory"
	"github.com/bjo163/sokomarket/internal/whatsapp"
	"github.com/bjo163/sokomarket/pkg/common"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound = domain.NewNotFoundError("ORDER_NOT_FOUND", "order not found")
	ErrOrderClosed   = domain.NewBusinessError("ORDER_CLOSED", "order is already delivered or cancelled")
	ErrInvalidToken  = domain.NewNotFoundError("INVALID_TOKEN", "confirmation link is not valid")
	ErrTokenExpired  = domain.NewBusinessError("TOKEN_EXPIRED", "confirmation link has expired")
)

// LimitGate enforces the monthly order allowance inside the placement transaction.
type LimitGate interface {
	CheckOrderLimitTx(tx *gorm.DB, organizationID int64) (*billing.LimitResult, error)
	RecordOrderTx(tx *gorm.DB, organizationID int64, at time.Time) error
}

// RoleResolver returns the member role of a user in an organization, "" when not a member.
type RoleResolver interface {
	MemberRole(ctx context.Context, organizationID, userID int64) (string, error)
}

type Options struct {
	PublicURL string
	TokenTTL  time.Duration
	Currency  string
}

type Service struct {
	db       *gorm.DB
	ledger   *inventory.Ledger
	limits   LimitGate
	roles    RoleResolver
	messages *whatsapp.Service
	store    cache.Store
	events   events.Publisher
	opts     Options
	now      func() time.Time
}

func NewService(db *gorm.DB, ledger *inventory.Ledger, limits LimitGate, roles RoleResolver,
	messages *whatsapp.Service, store cache.Store, pub events.Publisher, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 48 * time.Hour
	}
	if opts.Currency == "" {
		opts.Currency = "RWF"
	}
	return &Service{
		db:       db,
		ledger:   ledger,
		limits:   limits,
		roles:    roles,
		messages: messages,
		store:    store,
		events:   pub,
		opts:     opts,
		now:      time.Now,
	}
}

type ItemInput struct {
	ProductID int64  `json:"product_id,string" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	Notes     string `json:"notes" validate:"max=500"`
}

type PlaceInput struct {
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
	Notes string      `json:"notes" validate:"max=1000"`
}

// Placement is the result of Place. Handoff is nil when the merchant has no WhatsApp channel;
// ChannelError then says why. The order exists either way.
type Placement struct {
	Order        *domain.Order     `json:"order"`
	Handoff      *whatsapp.Handoff `json:"handoff,omitempty"`
	ChannelError string            `json:"channel_error,omitempty"`
	Replayed     bool              `json:"replayed,omitempty"`
}

// mergeItems folds repeated products into one line, keeping the first notes.
func mergeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, domain.NewValidationError("EMPTY_CART", "order must contain at least one item")
	}
	index := make(map[int64]int, len(items))
	merged := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if it.ProductID == 0 {
			return nil, domain.NewValidationError("INVALID_ITEM", "product id is required")
		}
		if it.Quantity < 1 {
			return nil, domain.NewValidationError("INVALID_QUANTITY", "quantity must be at least 1")
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			if merged[i].Notes == "" {
				merged[i].Notes = it.Notes
			}
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

const idemPending = "pending"

func (s *Service) idemKey(userID int64, key string) string {
	return fmt.Sprintf(cache.KeyIdemOrderCreate, userID, key)
}

// reserve claims the Idempotency-Key before any write. When another request
// already holds it, the stored order is replayed, or IDEMPOTENCY_IN_PROGRESS
// is returned while that request is still running.
func (s *Service) reserve(ctx context.Context, userID int64, key string) (string, *Placement, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.store == nil {
		return "", nil, nil
	}
	k := s.idemKey(userID, key)
	ok, err := s.store.SetNX(ctx, k, idemPending, cache.TTLIdempotency)
	if err != nil {
		zap.L().Warn("reserve order idempotency key", zap.Int64("user_id", userID), zap.Error(err))
		return "", nil, nil
	}
	if ok {
		return k, nil, nil
	}
	v, err := s.store.Get(ctx, k)
	if err != nil || v == idemPending {
		return "", nil, domain.NewBusinessError("IDEMPOTENCY_IN_PROGRESS", "an order with this Idempotency-Key is still being placed")
	}
	order, err := s.load(s.db.WithContext(ctx), cast.ToInt64(v))
	if err != nil {
		return "", nil, err
	}
	return "", &Placement{Order: order, Replayed: true}, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		zap.L().Warn("release order idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// Place creates a pending order. Stock is not touched until the merchant confirms.
func (s *Service) Place(ctx context.Context, customer *domain.User, in PlaceInput, idempotencyKey string) (*Placement, error) {
	idemKey, replay, err := s.reserve(ctx, customer.ID, idempotencyKey)
	if err != nil || replay != nil {
		return replay, err
	}

	items, err := mergeItems(in.Items)
	if err != nil {
		s.release(ctx, idemKey)
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}

	var (
		order *domain.Order
		org   domain.Organization
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var products []domain.Product
		if err := tx.Where("id IN ?", ids).Find(&products).Error; err != nil {
			return perrors.Wrap(err, "load cart products")
		}
		if len(products) != len(ids) {
			return domain.NewNotFoundError("PRODUCT_NOT_FOUND", "one or more products do not exist")
		}
		byID := make(map[int64]domain.Product, len(products))
		orgID := products[0].OrganizationID
		for _, p := range products {
			if p.OrganizationID != orgID {
				return domain.NewValidationError("MIXED_ORGANIZATION", "all items must come from the same store")
			}
			switch p.Status {
			case domain.ProductArchived:
				return domain.NewBusinessError("PRODUCT_UNAVAILABLE", p.Name+" is no longer sold")
			case domain.ProductDraft:
				return domain.NewBusinessError("PRODUCT_UNAVAILABLE", p.Name+" is not published yet")
			}
			byID[p.ID] = p
		}

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&org, orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewNotFoundError("ORGANIZATION_NOT_FOUND", "store not found")
		}
		if err != nil {
			return perrors.Wrap(err, "lock organization")
		}
		if org.Status == common.DISABLED {
			return domain.NewBusinessError("STORE_CLOSED", "store is not accepting orders")
		}

		limit, err := s.limits.CheckOrderLimitTx(tx, orgID)
		if err != nil {
			return err
		}
		if err := limit.Denied(); err != nil {
			return err
		}

		var last int64
		if err := tx.Model(&domain.Order{}).
			Where("organization_id = ?", orgID).
			Select("COALESCE(MAX(order_number), 0)").
			Scan(&last).Error; err != nil {
			return perrors.Wrap(err, "allocate order number")
		}

		token, err := common.RandomToken(24)
		if err != nil {
			return perrors.Wrap(err, "generate confirmation token")
		}
		now := s.now()
		order = &domain.Order{
			ID:                common.UUIDint64(),
			OrderNumber:       last + 1,
			OrganizationID:    orgID,
			UserID:            customer.ID,
			Status:            domain.OrderPending,
			Notes:             strings.TrimSpace(in.Notes),
			ConfirmationToken: token,
			TokenExpiresAt:    now.Add(s.opts.TokenTTL),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		total := decimal.Zero
		for _, it := range items {
			p := byID[it.ProductID]
			subtotal := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			total = total.Add(subtotal)
			order.Items = append(order.Items, domain.OrderItem{
				ID:           common.UUIDint64(),
				OrderID:      order.ID,
				ProductID:    p.ID,
				ProductName:  p.Name,
				Quantity:     it.Quantity,
				PriceAtOrder: p.Price,
				Subtotal:     subtotal,
				Notes:        strings.TrimSpace(it.Notes),
				CreatedAt:    now,
			})
		}
		order.TotalPrice = total

		if err := tx.Create(order).Error; err != nil {
			return perrors.Wrap(err, "insert order")
		}
		return s.limits.RecordOrderTx(tx, orgID, now)
	})
	if err != nil {
		s.release(ctx, idemKey)
		return nil, err
	}

	if idemKey != "" {
		if err := s.store.Set(ctx, idemKey, cast.ToString(order.ID), cache.TTLIdempotency); err != nil {
			zap.L().Warn("store order idempotency key", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	zap.L().Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("organization_id", order.OrganizationID),
		zap.Int64("order_number", order.OrderNumber),
		zap.String("total", order.TotalPrice.String()))

	s.publish(events.TopicOrderPlaced, events.OrderPlaced{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		OrganizationID: order.OrganizationID,
		UserID:         order.UserID,
		TotalPrice:     order.TotalPrice,
		ItemCount:      len(order.Items),
		OccurredAt:     order.CreatedAt,
	})

	placement := &Placement{Order: order}
	handoff, err := s.handoff(ctx, order, &org, customer)
	if err != nil {
		placement.ChannelError = err.Error()
		zap.L().Warn("merchant order message not built", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	placement.Handoff = handoff
	return placement, nil
}

func (s *Service) handoff(ctx context.Context, order *domain.Order, org *domain.Organization, customer *domain.User) (*whatsapp.Handoff, error) {
	if s.messages == nil {
		return nil, domain.ErrNoChannel
	}
	var channel domain.MerchantChannel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND kind = ? AND status = ?", order.OrganizationID, domain.ChannelWhatsApp, common.ENABLED).
		Order("created_at ASC").
		First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoChannel
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load merchant channel")
	}

	msg := whatsapp.OrderMessage{
		StoreName:    org.Name,
		OrderNumber:  order.OrderNumber,
		CustomerName: customer.Name,
		Total:        order.TotalPrice,
		Currency:     s.opts.Currency,
		Notes:        order.Notes,
		ConfirmURL:   s.tokenURL("confirm", order.ConfirmationToken),
		RejectURL:    s.tokenURL("reject", order.ConfirmationToken),
	}
	for _, it := range order.Items {
		msg.Lines = append(msg.Lines, whatsapp.Line{Name: it.ProductName, Quantity: it.Quantity, Subtotal: it.Subtotal, Notes: it.Notes})
	}
	return s.messages.OrderHandoff(channel.Address, msg)
}

func (s *Service) tokenURL(action, token string) string {
	return strings.TrimRight(s.opts.PublicURL, "/") + "/api/v1/public/orders/" + action + "?token=" + token
}

func (s *Service) publish(topic string, payload interface{}) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}

func (s *Service) load(tx *gorm.DB, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, perrors.Wrap(err, "load order")
	}
	return &order, nil
}

func (s *Service) canManage(ctx context.Context, organizationID int64, user *domain.User) (bool, error) {
	if user.IsAdmin() {
		return true, nil
	}
	role, err := s.roles.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return false, err
	}
	return domain.CanManage(role), nil
}

// Authorize checks that user may see (manage=false) or change (manage=true) the organization's orders.
func (s *Service) Authorize(ctx context.Context, organizationID int64, user *domain.User, manage bool) error {
	if user.IsAdmin() {
		return nil
	}
	role, err := s.roles.MemberRole(ctx, organizationID, user.ID)
	if err != nil {
		return err
	}
	if role == "" || (manage && !domain.CanManage(role)) {
		return domain.ErrForbidden
	}
	return nil
}

type allowFunc func(from string) error

func adjacency(to string) allowFunc {
	return func(from string) error {
		if !CanTransition(from, to) {
			return domain.NewBusinessError("INVALID_TRANSITION", fmt.Sprintf("cannot move order from %s to %s", from, to))
		}
		return nil
	}
}

func customerDelivery(from string) error {
	if !customerDeliverable[from] {
		return domain.NewBusinessError("INVALID_TRANSITION", "order can be marked delivered only after the store accepted it")
	}
	return nil
}

// transition moves the order to target with a compare-and-swap on the observed status.
// Stock effects run in the same transaction, so a ledger failure rolls the status back.
func (s *Service) transition(ctx context.Context, orderID int64, target string, actorID int64, allow allowFunc) (*domain.Order, error) {
	var (
		order   *domain.Order
		from    string
		changed bool
		alerts  []events.LowStock
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.load(tx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if IsTerminal(from) {
			return ErrOrderClosed
		}
		if from == target {
			return nil
		}
		if err := allow(from); err != nil {
			return err
		}

		now := s.now()
		updates := map[string]interface{}{"status": target, "updated_at": now}
		switch target {
		case domain.OrderConfirmed:
			updates["confirmed_at"] = now
			order.ConfirmedAt = &now
		case domain.OrderCancelled:
			updates["cancelled_at"] = now
			order.CancelledAt = &now
		case domain.OrderDelivered:
			updates["delivered_at"] = now
			order.DeliveredAt = &now
		}
		res := tx.Model(&domain.Order{}).Where("id = ? AND status = ?", order.ID, from).Updates(updates)
		if res.Error != nil {
			return perrors.Wrap(res.Error, "update order status")
		}
		if res.RowsAffected == 0 {
			var current string
			if err := tx.Model(&domain.Order{}).Select("status").Where("id = ?", order.ID).Scan(&current).Error; err != nil {
				return perrors.Wrap(err, "reload order status")
			}
			if current == target {
				order.Status = current
				return nil
			}
			return domain.NewBusinessError("ORDER_CONFLICT", "order was changed concurrently, reload and retry")
		}

		switch target {
		case domain.OrderConfirmed:
			alerts, err = s.deduct(tx, order, actorID)
		case domain.OrderCancelled:
			err = s.restore(tx, order, actorID)
		}
		if err != nil {
			return err
		}
		order.Status = target
		order.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		zap.L().Info("order status changed",
			zap.Int64("order_id", order.ID),
			zap.String("from", from),
			zap.String("to", target),
			zap.Int64("actor_id", actorID))
		s.publish(events.TopicOrderStatusChanged, events.OrderStatusChanged{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			OrganizationID: order.OrganizationID,
			UserID:         order.UserID,
			From:           from,
			To:             target,
			ActorID:        actorID,
			OccurredAt:     order.UpdatedAt,
		})
		for _, a := range alerts {
			s.publish(events.TopicLowStock, a)
		}
	}
	return order, nil
}

func saleKey(orderID, productID int64) string {
	return fmt.Sprintf("order:%d:sale:%d", orderID, productID)
}

func returnKey(orderID, productID int64) string {
	return fmt.Sprintf("order:%d:return:%d", orderID, productID)
}

func trackedProducts(tx *gorm.DB, organizationID int64, ids []int64) (map[int64]domain.Product, error) {
	var products []domain.Product
	if err := tx.Where("organization_id = ? AND id IN ?", organizationID, ids).Find(&products).Error; err != nil {
		return nil, perrors.Wrap(err, "load order products")
	}
	out := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		if p.InventoryEnabled {
			out[p.ID] = p
		}
	}
	return out, nil
}

func (s *Service) deduct(tx *gorm.DB, order *domain.Order, actorID int64) ([]events.LowStock, error) {
	ids := make([]int64, 0, len(order.Items))
	for _, it := range order.Items {
		ids = append(ids, it.ProductID)
	}
	tracked, err := trackedProducts(tx, order.OrganizationID, ids)
	if err != nil {
		return nil, err
	}
	var alerts []events.LowStock
	for _, it := range order.Items {
		p, ok := tracked[it.ProductID]
		if !ok {
			continue
		}
		res, err := s.ledger.ApplyTx(tx, inventory.Delta{
			ProductID:      it.ProductID,
			OrganizationID: order.OrganizationID,
			QuantityChange: -it.Quantity,
			ChangeType:     domain.ChangeSale,
			Reason:         fmt.Sprintf("order #%d confirmed", order.OrderNumber),
			ActorID:        actorID,
			ReferenceKey:   saleKey(order.ID, it.ProductID),
		})
		if err != nil {
			return nil, err
		}
		if res.Shortfall > 0 {
			zap.L().Warn("order oversold product",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", it.ProductID),
				zap.Int("shortfall", res.Shortfall))
		}
		if !res.Duplicate && res.NewStock < res.PreviousStock && res.NewStock <= p.LowStockThreshold {
			alerts = append(alerts, events.LowStock{
				ProductID:      p.ID,
				OrganizationID: p.OrganizationID,
				Name:           p.Name,
				CurrentStock:   res.NewStock,
				Threshold:      p.LowStockThreshold,
				OccurredAt:     s.now(),
			})
		}
	}
	return alerts, nil
}

// restore returns what the order's sale entries actually removed. Orders that were
// never confirmed have no sale entries and restore nothing.
func (s *Service) restore(tx *gorm.DB, order *domain.Order, actorID int64) error {
	keys := make([]string, 0, len(order.Items))
	for _, it := range order.Items {
		keys = append(keys, saleKey(order.ID, it.ProductID))
	}
	var sales []domain.InventoryHistory
	if err := tx.Where("reference_key IN ?", keys).Order("id ASC").Find(&sales).Error; err != nil {
		return perrors.Wrap(err, "load sale entries")
	}
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sales))
	for _, e := range sales {
		ids = append(ids, e.ProductID)
	}
	tracked, err := trackedProducts(tx, order.OrganizationID, ids)
	if err != nil {
		return err
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ProductID < sales[j].ProductID })
	for _, e := range sales {
		qty := e.PreviousStock - e.NewStock
		if qty <= 0 {
			continue
		}
		if _, ok := tracked[e.ProductID]; !ok {
			zap.L().Warn("stock not restored, tracking disabled since confirmation",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", e.ProductID),
				zap.Int("quantity", qty))
			continue
		}
		if _, err := s.ledger.ApplyTx(tx, inventory.Delta{
			ProductID:      e.ProductID,
			OrganizationID: order.OrganizationID,
			QuantityChange: qty,
			ChangeType:     domain.ChangeReturn,
			Reason:         fmt.Sprintf("order #%d cancelled", order.OrderNumber),
			ActorID:        actorID,
			ReferenceKey:   returnKey(order.ID, e.ProductID),
		}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus is the merchant path. Only owners and admins of the store may use it.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, target string, actor *domain.User) (*domain.Order, error) {
	if !IsStatus(target) {
		return nil, domain.NewValidationError("INVALID_STATUS", "unknown order status "+target)
	}
	order, err := s.load(s.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canManage(ctx, order.OrganizationID, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrForbidden
	}
	return s.transition(ctx, orderID, target, actor.ID, adjacency(target))
}

// Cancel may be called by the customer who placed the order or by a store manager.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor *domain.User) (*domain.Order, error) {
	order, err := s.load(s.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.ID {
		ok, err := s.canManage(ctx, order.OrganizationID, actor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrForbidden
		}
	}
	if IsTerminal(order.Status) {
		return nil, ErrOrderClosed
	}
	return s.transition(ctx, orderID, domain.OrderCancelled, actor.ID, adjacency(domain.OrderCancelled))
}

// MarkDelivered is the customer's receipt confirmation. It has no stock effect.
func (s *Service) MarkDelivered(ctx context.Context, orderID int64, actor *domain.User) (*domain.Order, error) {
	order, err := s.load(s.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.ID {
		return nil, domain.ErrForbidden
	}
	if IsTerminal(order.Status) {
		return nil, ErrOrderClosed
	}
	return s.transition(ctx, orderID, domain.OrderDelivered, actor.ID, customerDelivery)
}

func (s *Service) byToken(ctx context.Context, token string) (*domain.Order, int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, ErrInvalidToken
	}
	var order domain.Order
	err := s.db.WithContext(ctx).Where("confirmation_token = ?", token).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrInvalidToken
	}
	if err != nil {
		return nil, 0, perrors.Wrap(err, "load order by token")
	}
	if s.now().After(order.TokenExpiresAt) {
		return nil, 0, ErrTokenExpired
	}
	var org domain.Organization
	if err := s.db.WithContext(ctx).Select("id", "owner_id").First(&org, order.OrganizationID).Error; err != nil {
		return nil, 0, perrors.Wrap(err, "load order organization")
	}
	return &order, org.OwnerID, nil
}

// ConfirmByToken is the out-of-band merchant confirmation. The store owner is recorded as actor.
func (s *Service) ConfirmByToken(ctx context.Context, token string) (*domain.Order, error) {
	order, ownerID, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order.ID, domain.OrderConfirmed, ownerID, adjacency(domain.OrderConfirmed))
}

// RejectByToken cancels through the merchant link.
func (s *Service) RejectByToken(ctx context.Context, token string) (*domain.Order, error) {
	order, ownerID, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order.ID, domain.OrderCancelled, ownerID, adjacency(domain.OrderCancelled))
}
