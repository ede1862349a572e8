package adminapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/orders"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type orderStatusPayload struct {
	Status string `json:"status" validate:"required"`
}

// tokenActionResult is what the merchant sees after following a WhatsApp link
type tokenActionResult struct {
	OrderID     int64  `json:"order_id,string"`
	OrderNumber int64  `json:"order_number"`
	Status      string `json:"status"`
}

func registerOrderRoutes() {
	webserver.ApiGET("/orders", ListOrders)
	webserver.ApiPOST("/orders", PlaceOrder)
	webserver.ApiGET("/orders/export", ExportOrders)
	webserver.ApiGET("/orders/:id", GetOrder)
	webserver.ApiPUT("/orders/:id/status", UpdateOrderStatus)
	webserver.ApiPOST("/orders/:id/cancel", CancelOrder)
	webserver.ApiPOST("/orders/:id/delivered", MarkOrderDelivered)
}

func registerPublicOrderRoutes() {
	webserver.PubGET("/public/orders/confirm", ConfirmOrderByToken)
	webserver.PubGET("/public/orders/reject", RejectOrderByToken)
}

// orderFilter scopes the list to a store the caller belongs to, or to the caller's own orders.
// On false the response has been written.
func orderFilter(c echo.Context) (orders.ListFilter, bool, error) {
	f := orders.ListFilter{
		OrganizationID: queryInt64(c, "organization_id"),
		Status:         strings.TrimSpace(c.QueryParam("status")),
		Sort:           strings.TrimSpace(c.QueryParam("sort")),
		Order:          strings.ToLower(strings.TrimSpace(c.QueryParam("order"))),
	}
	from, to, err := parseRange(c)
	if err != nil {
		return f, false, fail(c, http.StatusBadRequest, "INVALID_DATE", "Unable to parse from/to", err.Error())
	}
	f.From, f.To = from, to
	user := currentUser(c)
	if f.OrganizationID == 0 {
		f.CustomerID = user.ID
		return f, true, nil
	}
	if err := services(c).Orders.Authorize(c.Request().Context(), f.OrganizationID, user, false); err != nil {
		return f, false, failErr(c, err)
	}
	return f, true, nil
}

// ListOrders
// @Summary list orders
// @Tags Orders
// @Param organization_id query int false "Store orders instead of the caller's own"
// @Param status query string false "Order status"
// @Param from query string false "Placed at or after"
// @Param to query string false "Placed before"
// @Param sort query string false "created_at, order_number, total_price or status"
// @Param order query string false "asc or desc"
// @Success 200 {object} ListResponse
// @Router /api/v1/orders [get]
func ListOrders(c echo.Context) error {
	f, okFilter, err := orderFilter(c)
	if !okFilter {
		return err
	}
	page, pageSize := parsePagination(c)
	rows, total, err := services(c).Orders.List(c.Request().Context(), f, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}

// PlaceOrder checks out a cart from one store
// @Summary place an order
// @Tags Orders
// @Param Idempotency-Key header string false "Replay protection key"
// @Param order body orders.PlaceInput true "Cart"
// @Success 201 {object} Response
// @Router /api/v1/orders [post]
func PlaceOrder(c echo.Context) error {
	var payload orders.PlaceInput
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	placement, err := services(c).Orders.Place(c.Request().Context(), currentUser(c), payload, c.Request().Header.Get(idempotencyHeader))
	if err != nil {
		return failErr(c, err)
	}
	if placement.Replayed {
		return ok(c, placement)
	}
	return created(c, placement)
}

func GetOrder(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	order, err := services(c).Orders.Get(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, order)
}

// ExportOrders downloads the filtered orders as an xlsx workbook
// @Summary export orders
// @Tags Orders
// @Param organization_id query int false "Organization ID"
// @Param from query string false "Placed at or after"
// @Param to query string false "Placed before"
// @Router /api/v1/orders/export [get]
func ExportOrders(c echo.Context) error {
	f, okFilter, err := orderFilter(c)
	if !okFilter {
		return err
	}
	rows, _, err := services(c).Orders.List(c.Request().Context(), f, 0, 0)
	if err != nil {
		return failErr(c, err)
	}
	var buf bytes.Buffer
	if err := orders.WriteXLSX(&buf, rows); err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_ERROR", "Failed to build workbook", err.Error())
	}
	filename := fmt.Sprintf("orders-%s.xlsx", time.Now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// UpdateOrderStatus moves an order along the status graph
// @Summary update order status
// @Tags Orders
// @Param id path int true "Order ID"
// @Param status body orderStatusPayload true "Target status"
// @Success 200 {object} Response
// @Router /api/v1/orders/{id}/status [put]
func UpdateOrderStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	var payload orderStatusPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	order, err := services(c).Orders.UpdateStatus(c.Request().Context(), id, strings.TrimSpace(payload.Status), currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, order)
}

func CancelOrder(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	order, err := services(c).Orders.Cancel(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, order)
}

func MarkOrderDelivered(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	order, err := services(c).Orders.MarkDelivered(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, order)
}

// ConfirmOrderByToken is the link embedded in the merchant's WhatsApp message
// @Summary confirm an order by token
// @Tags Orders
// @Param token query string true "Confirmation token"
// @Success 200 {object} Response
// @Router /api/v1/public/orders/confirm [get]
func ConfirmOrderByToken(c echo.Context) error {
	return tokenAction(c, services(c).Orders.ConfirmByToken)
}

// RejectOrderByToken
// @Summary reject an order by token
// @Tags Orders
// @Param token query string true "Confirmation token"
// @Success 200 {object} Response
// @Router /api/v1/public/orders/reject [get]
func RejectOrderByToken(c echo.Context) error {
	return tokenAction(c, services(c).Orders.RejectByToken)
}

func tokenAction(c echo.Context, act func(ctx context.Context, token string) (*domain.Order, error)) error {
	order, err := act(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		return failErr(c, err)
	}
	zap.L().Info("order updated by merchant link",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status))
	return ok(c, tokenActionResult{OrderID: order.ID, OrderNumber: order.OrderNumber, Status: order.Status})
}
